package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/graaaaa/valheim-watcher/internal/derive"
)

// FilterConfig determines which notifications are delivered.
type FilterConfig struct {
	NotifyOnConnect    bool
	NotifyOnDisconnect bool
	NotifyOnRejected   bool
	NotifyOnDeath      bool
	NotifyOnWorldSave  bool
}

// Allows reports whether notifications of type t pass the filter.
func (f FilterConfig) Allows(t derive.NotificationType) bool {
	switch t {
	case derive.NotifyPeerIdentified:
		return f.NotifyOnConnect
	case derive.NotifyPeerDisconnected:
		return f.NotifyOnDisconnect
	case derive.NotifyPeerRejected:
		return f.NotifyOnRejected
	case derive.NotifyCharacterDied:
		return f.NotifyOnDeath
	case derive.NotifyWorldSaved:
		return f.NotifyOnWorldSave
	default:
		return false
	}
}

// NotifierStatus represents the current status of the notifier.
type NotifierStatus struct {
	Disabled       bool      `json:"disabled"`
	DisabledReason string    `json:"disabled_reason,omitempty"`
	DisabledAt     time.Time `json:"disabled_at,omitempty"`
	Sent           int64     `json:"sent"`
	Dropped        int64     `json:"dropped"`
}

// ErrDisabled is returned by Announce after a fatal send error.
var ErrDisabled = errors.New("notifier disabled")

// ErrSendFailed is returned by Announce when Discord did not accept the message.
var ErrSendFailed = errors.New("send failed")

// DefaultMaxQueueSize is the default maximum number of notifications to keep in queue.
const DefaultMaxQueueSize = 100

// DefaultBatchDelay is used when NewNotifier gets a non-positive delay.
const DefaultBatchDelay = 3 * time.Second

// Notifier batches and sends Discord notifications.
// It runs a dedicated goroutine for processing notifications.
type Notifier struct {
	sender       Sender
	afterFunc    AfterFunc
	batchDelay   time.Duration
	filter       FilterConfig
	logger       *slog.Logger
	maxQueueSize int
	retry        backoff.BackOff

	noteCh  chan derive.Notification
	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	// internal state (protected by mu)
	mu          sync.Mutex
	queue       []derive.Notification
	timerHandle TimerHandle
	status      NotifierStatus

	// backoff state, touched only by the run loop
	backoffAttempt int
	backoffUntil   time.Time

	stopOnce sync.Once
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithAfterFunc sets the timer function (for testing).
func WithAfterFunc(af AfterFunc) NotifierOption {
	return func(n *Notifier) { n.afterFunc = af }
}

// WithNotifierLogger sets the logger.
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = logger }
}

// WithMaxQueueSize sets the maximum queue size.
func WithMaxQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.maxQueueSize = size
		}
	}
}

// WithBackoff replaces the retry schedule.
func WithBackoff(b backoff.BackOff) NotifierOption {
	return func(n *Notifier) {
		if b != nil {
			n.retry = b
		}
	}
}

// NewNotifier creates a new Notifier.
// Call Run() to start processing notifications.
func NewNotifier(sender Sender, batchDelay time.Duration, filter FilterConfig, opts ...NotifierOption) *Notifier {
	if batchDelay <= 0 {
		batchDelay = DefaultBatchDelay
	}

	n := &Notifier{
		sender:       sender,
		afterFunc:    DefaultAfterFunc,
		batchDelay:   batchDelay,
		filter:       filter,
		logger:       slog.Default(),
		maxQueueSize: DefaultMaxQueueSize,
		retry:        NewRetryBackOff(),
		noteCh:       make(chan derive.Notification, 64),
		flushCh:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		queue:        make([]derive.Notification, 0, 16),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run starts the notification processing loop.
// Blocks until Stop is called or ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	defer close(n.doneCh)

	for {
		select {
		case note := <-n.noteCh:
			n.handleNotification(note)

		case <-n.flushCh:
			n.flush(ctx)

		case <-n.stopCh:
			n.drain()
			n.flush(ctx)
			return

		case <-ctx.Done():
			n.drain()
			n.flush(context.Background()) // ctx is already done
			return
		}
	}
}

// Enqueue adds notifications to the queue, dropping those the filter rejects.
// Safe to call from any goroutine. Non-blocking: if the channel is full,
// the notification is dropped.
func (n *Notifier) Enqueue(notes ...derive.Notification) {
	for _, note := range notes {
		if n.Disabled() || !n.filter.Allows(note.Type) {
			continue
		}

		select {
		case n.noteCh <- note:
		default:
			n.mu.Lock()
			n.status.Dropped++
			n.mu.Unlock()
			n.logger.Warn("notification queue full, dropped", "type", note.Type)
		}
	}
}

// Announce sends a plain text message immediately, bypassing the batch queue
// and the filter. Used for server lifecycle messages.
func (n *Notifier) Announce(ctx context.Context, text string) error {
	if n.Disabled() {
		return ErrDisabled
	}
	result, _ := n.sender.Send(ctx, TextPayload(text))
	switch result {
	case SendOK:
		n.mu.Lock()
		n.status.Sent++
		n.mu.Unlock()
		return nil
	case SendFatal:
		n.disable()
		return ErrDisabled
	default:
		return ErrSendFailed
	}
}

// drain moves anything still buffered in noteCh into the queue.
func (n *Notifier) drain() {
	for {
		select {
		case note := <-n.noteCh:
			n.handleNotification(note)
		default:
			return
		}
	}
}

func (n *Notifier) handleNotification(note derive.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.queue = append(n.queue, note)
	n.coalesceQueueLocked()

	// Drop oldest beyond the limit.
	if len(n.queue) > n.maxQueueSize {
		dropped := len(n.queue) - n.maxQueueSize
		n.queue = n.queue[dropped:]
		n.status.Dropped += int64(dropped)
		n.logger.Warn("queue overflow, dropped old notifications", "dropped", dropped)
	}

	if n.timerHandle == nil {
		n.timerHandle = n.afterFunc(n.batchDelay, n.triggerFlush)
	}
}

// coalesceQueueLocked keeps only the latest world save in the queue.
// Peer and character notifications are never merged; each one is a distinct message.
// Must be called with mu held.
func (n *Notifier) coalesceQueueLocked() {
	last := -1
	for i := len(n.queue) - 1; i >= 0; i-- {
		if n.queue[i].Type == derive.NotifyWorldSaved {
			last = i
			break
		}
	}
	if last < 0 {
		return
	}

	result := n.queue[:0]
	for i, note := range n.queue {
		if note.Type == derive.NotifyWorldSaved && i != last {
			continue
		}
		result = append(result, note)
	}
	n.queue = result
}

func (n *Notifier) triggerFlush() {
	select {
	case n.flushCh <- struct{}{}:
	default:
	}
}

func (n *Notifier) flush(ctx context.Context) {
	n.mu.Lock()
	// Whatever timer is pending is superseded by this flush.
	if n.timerHandle != nil {
		n.timerHandle.Stop()
		n.timerHandle = nil
	}
	if len(n.queue) == 0 || n.status.Disabled {
		n.queue = n.queue[:0]
		n.mu.Unlock()
		return
	}

	// In backoff: keep the queue and schedule a flush for when it ends.
	if time.Now().Before(n.backoffUntil) {
		remaining := time.Until(n.backoffUntil)
		n.logger.Debug("in backoff period, keeping notifications queued",
			"queue_size", len(n.queue),
			"remaining", remaining,
		)
		n.timerHandle = n.afterFunc(remaining, n.triggerFlush)
		n.mu.Unlock()
		return
	}

	notes := n.queue
	n.queue = make([]derive.Notification, 0, 16)
	n.mu.Unlock()

	payloads := BuildPayloads(notes)
	for i, payload := range payloads {
		result, retryAfter := n.sender.Send(ctx, payload)
		n.handleSendResult(result, retryAfter)

		if result == SendOK {
			n.mu.Lock()
			n.status.Sent += int64(len(payload.Embeds))
			n.mu.Unlock()
			continue
		}
		if result == SendRetryable {
			n.requeue(notes[i*MaxEmbedsPerRequest:])
		}
		break
	}
}

// requeue puts unsent notifications back at the head of the queue.
func (n *Notifier) requeue(notes []derive.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.queue = append(append(make([]derive.Notification, 0, len(notes)+len(n.queue)), notes...), n.queue...)
	if len(n.queue) > n.maxQueueSize {
		dropped := len(n.queue) - n.maxQueueSize
		n.queue = n.queue[dropped:]
		n.status.Dropped += int64(dropped)
	}
	if n.timerHandle == nil {
		n.timerHandle = n.afterFunc(time.Until(n.backoffUntil), n.triggerFlush)
	}
}

func (n *Notifier) handleSendResult(result SendResult, retryAfter time.Duration) {
	switch result {
	case SendOK:
		n.backoffAttempt = 0
		n.backoffUntil = time.Time{}
		n.retry.Reset()

	case SendRetryable:
		n.backoffAttempt++
		delay := n.retry.NextBackOff()
		if retryAfter > 0 {
			delay = retryAfter
		}
		n.backoffUntil = time.Now().Add(delay)
		n.logger.Warn("Discord send failed, backing off",
			"attempt", n.backoffAttempt,
			"backoff_until", n.backoffUntil,
		)

	case SendFatal:
		n.disable()
	}
}

func (n *Notifier) disable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.Disabled {
		return
	}
	n.status.Disabled = true
	n.status.DisabledReason = "fatal error (invalid webhook or authentication failed)"
	n.status.DisabledAt = time.Now()
	n.queue = n.queue[:0]
	n.logger.Error("Discord send fatal error, notifications disabled")
}

// Stop stops the notifier gracefully.
// Waits for the run loop to finish or until ctx is cancelled.
// Safe to call multiple times.
func (n *Notifier) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})

	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disabled reports whether a fatal error switched the notifier off.
func (n *Notifier) Disabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.Disabled
}

// Status returns the current notifier status.
// Safe for concurrent use.
func (n *Notifier) Status() NotifierStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// QueueLength returns the current queue length.
// Safe for concurrent use.
func (n *Notifier) QueueLength() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}
