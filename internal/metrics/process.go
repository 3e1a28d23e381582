package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// DefaultSampleInterval is how often the server process is sampled.
const DefaultSampleInterval = 15 * time.Second

// ProcessStat is one sample of the supervised server process.
type ProcessStat struct {
	RSS        uint64
	CPUPercent float64
	Threads    int32
}

// ProcessProbe reads resource usage for a pid.
type ProcessProbe interface {
	Sample(ctx context.Context, pid int32) (ProcessStat, error)
	HostMemoryUsedPercent(ctx context.Context) (float64, error)
}

// gopsutilProbe samples the process tree rooted at the server pid: the
// start script is a shell, the game binary is one of its descendants.
// Handles are kept between samples so CPU percent covers the interval
// since the previous sample rather than the process lifetime.
type gopsutilProbe struct {
	procs map[int32]*process.Process
}

func newGopsutilProbe() *gopsutilProbe {
	return &gopsutilProbe{procs: make(map[int32]*process.Process)}
}

func (g *gopsutilProbe) handle(pid int32) (*process.Process, error) {
	if p, ok := g.procs[pid]; ok {
		return p, nil
	}
	return process.NewProcess(pid)
}

func (g *gopsutilProbe) Sample(ctx context.Context, root int32) (ProcessStat, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return ProcessStat{}, err
	}
	parents := make(map[int32]int32, len(pids))
	for _, pid := range pids {
		p, err := g.handle(pid)
		if err != nil {
			continue
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		parents[pid] = ppid
	}
	if _, ok := parents[root]; !ok {
		return ProcessStat{}, fmt.Errorf("process %d not found", root)
	}

	var stat ProcessStat
	live := make(map[int32]*process.Process)
	for _, pid := range processTree(root, parents) {
		p, err := g.handle(pid)
		if err != nil {
			continue
		}
		mi, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			// Exited since the pid listing.
			continue
		}
		stat.RSS += mi.RSS
		if cpu, err := p.PercentWithContext(ctx, 0); err == nil {
			stat.CPUPercent += cpu
		}
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			stat.Threads += n
		}
		live[pid] = p
	}
	g.procs = live
	return stat, nil
}

// processTree returns root followed by all its descendants, given each
// pid's parent.
func processTree(root int32, parents map[int32]int32) []int32 {
	children := make(map[int32][]int32)
	for pid, ppid := range parents {
		if pid != root {
			children[ppid] = append(children[ppid], pid)
		}
	}
	tree := []int32{root}
	seen := map[int32]bool{root: true}
	for i := 0; i < len(tree); i++ {
		for _, c := range children[tree[i]] {
			if !seen[c] {
				seen[c] = true
				tree = append(tree, c)
			}
		}
	}
	return tree
}

func (*gopsutilProbe) HostMemoryUsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// SamplerOption configures a ProcessSampler.
type SamplerOption func(*ProcessSampler)

// WithProbe replaces the gopsutil probe (for testing).
func WithProbe(p ProcessProbe) SamplerOption {
	return func(s *ProcessSampler) { s.probe = p }
}

// WithSamplerLogger sets the sampler's logger.
func WithSamplerLogger(l *slog.Logger) SamplerOption {
	return func(s *ProcessSampler) { s.logger = l }
}

// ProcessSampler periodically publishes server process gauges.
type ProcessSampler struct {
	m        *Metrics
	pid      func() int
	interval time.Duration
	probe    ProcessProbe
	logger   *slog.Logger
}

// NewProcessSampler creates a sampler. pid returns 0 while no server runs.
func (m *Metrics) NewProcessSampler(pid func() int, interval time.Duration, opts ...SamplerOption) *ProcessSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	s := &ProcessSampler{
		m:        m,
		pid:      pid,
		interval: interval,
		probe:    newGopsutilProbe(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples until ctx is cancelled.
func (s *ProcessSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce takes a single sample and updates the gauges.
func (s *ProcessSampler) SampleOnce(ctx context.Context) {
	if pct, err := s.probe.HostMemoryUsedPercent(ctx); err != nil {
		s.logger.Debug("host memory sample failed", "error", err)
	} else {
		s.m.hostMemUsed.Set(pct)
	}

	pid := 0
	if s.pid != nil {
		pid = s.pid()
	}
	if pid <= 0 {
		s.m.serverUp.Set(0)
		return
	}

	stat, err := s.probe.Sample(ctx, int32(pid))
	if err != nil {
		s.logger.Debug("server process sample failed", "pid", pid, "error", err)
		s.m.serverUp.Set(0)
		return
	}
	s.m.serverUp.Set(1)
	s.m.serverRSS.Set(float64(stat.RSS))
	s.m.serverCPU.Set(stat.CPUPercent)
	s.m.serverThread.Set(float64(stat.Threads))
}
