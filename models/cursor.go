package models

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadCursor = errors.New("cursor must be a unix millisecond timestamp")

// FormatCursor encodes t as a unix millisecond string.
func FormatCursor(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseCursor decodes a cursor produced by FormatCursor.
func ParseCursor(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, errBadCursor
	}
	return time.UnixMilli(ms).UTC(), nil
}
