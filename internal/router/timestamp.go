package router

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for frame timestamps. Values without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// epochMillisAbove separates epoch seconds from epoch milliseconds.
const epochMillisAbove = 1e11

// present reports whether a raw field carries a value.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// parseTime reads an RFC 3339 or zone-less ISO 8601 string, or a number
// of epoch seconds or milliseconds. ok is false for absent or unreadable
// values.
func parseTime(raw json.RawMessage) (time.Time, bool) {
	if !present(raw) {
		return time.Time{}, false
	}
	raw = bytes.TrimSpace(raw)

	if raw[0] != '"' {
		return parseEpoch(string(raw))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return parseEpoch(s)
}

func parseEpoch(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return time.Time{}, false
	}
	if f > epochMillisAbove {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
}
