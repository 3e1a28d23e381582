package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultClock is used by the simple production API.
var DefaultClock Clock = realClock{}

// ToRecord converts an ingested Event to a storable record with a dedupe key.
// Uses DefaultClock for IngestedAt timestamp. Returns nil for an unknown variant.
func ToRecord(e Event, runID string) *event.Record {
	return ToRecordWithClock(e, runID, DefaultClock)
}

// ToRecordWithClock allows deterministic tests by injecting a clock.
func ToRecordWithClock(e Event, runID string, clk Clock) *event.Record {
	rec := event.NewRecord(e.Event)
	if rec == nil {
		return nil
	}
	rec.RawLine = e.RawLine
	rec.RunID = runID
	rec.DedupeKey = DedupeKey(e.LineNo, e.RawLine)
	rec.IngestedAt = clk.Now()
	return rec
}

// DedupeKey identifies a line by its position and content.
// Re-reading the same file yields the same keys, so stored history is not duplicated.
func DedupeKey(lineNo int64, rawLine string) string {
	return SHA256Hex(strconv.FormatInt(lineNo, 10) + "\n" + rawLine)
}

// SHA256Hex returns the SHA256 hash of the input string as a hex string.
func SHA256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
