package storage

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the fixed-width RFC3339 format used in cursors.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// encodeCursor creates a URL-safe cursor from the timestamp and log position
// of the last returned event.
func encodeCursor(t time.Time, pos int) string {
	s := fmt.Sprintf("%s|%d", t.UTC().Format(TimeFormat), pos)
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeCursor(cur string) (time.Time, int, error) {
	b, err := base64.RawURLEncoding.DecodeString(cur)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: base64 decode failed", ErrInvalidCursor)
	}

	tsStr, posStr, ok := strings.Cut(string(b), "|")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}

	t, err := time.Parse(TimeFormat, tsStr)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: invalid timestamp", ErrInvalidCursor)
	}

	pos, err := strconv.Atoi(posStr)
	if err != nil || pos < 0 {
		return time.Time{}, 0, fmt.Errorf("%w: invalid position", ErrInvalidCursor)
	}

	return t, pos, nil
}
