package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// A cursor is base64url("<ts>|<id>") of the last row on a page. It is safe
// in query strings and as an SSE event id.

// EncodeCursor returns the cursor positioned after the row (t, id).
func EncodeCursor(t time.Time, id int64) string {
	raw := t.UTC().Format(TimeFormat) + "|" + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cur string) (time.Time, int64, error) {
	invalid := func(why string) (time.Time, int64, error) {
		return time.Time{}, 0, fmt.Errorf("%w: %s", ErrInvalidCursor, why)
	}

	raw, err := base64.RawURLEncoding.DecodeString(cur)
	if err != nil {
		return invalid("not base64url")
	}
	tsPart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return invalid("missing separator")
	}
	ts, err := time.Parse(TimeFormat, tsPart)
	if err != nil {
		return invalid("bad timestamp")
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 0 {
		return invalid("bad id")
	}
	return ts, id, nil
}
