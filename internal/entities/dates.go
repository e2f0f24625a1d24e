package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// DefaultDateTime marks an unset date ("always" for creation dates). It is
	// the zero time, 0001-01-01T00:00:00Z, so that day is not a storable date;
	// real dates start at 0001-01-02.
	DefaultDateTime = time.Time{}
	// MaxDateTime marks a date that never arrives ("never" for limit dates)
	MaxDateTime = time.Date(9999, 12, 31, 23, 59, 59, 999000000, time.UTC)
)

const (
	secondsPerDay = 86400
	msPerDay      = secondsPerDay * 1000
)

// epochUnix is 0001-01-01T00:00:00Z, which is day 1
var epochUnix = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

// maxDays is the day number of MaxDateTime
var maxDays, _ = DayCount(MaxDateTime)

// IsDefaultDateTime reports whether t is the unset sentinel
func IsDefaultDateTime(t time.Time) bool {
	return t.IsZero()
}

// IsMaxDateTime reports whether t is at or beyond the "never" sentinel
func IsMaxDateTime(t time.Time) bool {
	return !t.Before(MaxDateTime)
}

// IsDateSentinel reports whether t is one of the two date sentinels
func IsDateSentinel(t time.Time) bool {
	return IsDefaultDateTime(t) || IsMaxDateTime(t)
}

// DayCount converts t into its day number and millisecond of day. Day 0 is the
// unset sentinel.
func DayCount(t time.Time) (days int64, msOfDay int64) {
	if IsDefaultDateTime(t) {
		return 0, 0
	}
	t = t.UTC()
	secs := t.Unix() - epochUnix
	days = secs/secondsPerDay + 1
	msOfDay = (secs%secondsPerDay)*1000 + int64(t.Nanosecond()/1e6)
	return days, msOfDay
}

// FromDayCount is the inverse of DayCount
func FromDayCount(days, msOfDay int64) time.Time {
	if days <= 0 {
		return DefaultDateTime
	}
	secs := epochUnix + (days-1)*secondsPerDay + msOfDay/1000
	return time.Unix(secs, (msOfDay%1000)*1e6).UTC()
}

// EncodeDate stores the date part of t as a zero-padded day count, so that text
// order equals chronological order
func EncodeDate(t time.Time) string {
	days, _ := DayCount(t)
	return fmt.Sprintf("%07d", days)
}

// DecodeDate parses a value written by EncodeDate. Stored sentinels decode to the
// zero time.
func DecodeDate(raw string) (time.Time, error) {
	days, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", raw, err)
	}
	if days <= 0 || days >= maxDays {
		return time.Time{}, nil
	}
	return FromDayCount(days, 0), nil
}

// EncodeDateTime stores t as "days,msofday", both zero-padded
func EncodeDateTime(t time.Time) string {
	days, ms := DayCount(t)
	return fmt.Sprintf("%07d,%08d", days, ms)
}

// DecodeDateTime parses a value written by EncodeDateTime. Stored sentinels decode
// to the zero time.
func DecodeDateTime(raw string) (time.Time, error) {
	dayPart, msPart, ok := strings.Cut(raw, ",")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid stored datetime %q", raw)
	}
	days, err := strconv.ParseInt(dayPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored datetime %q: %w", raw, err)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 || ms >= msPerDay {
		return time.Time{}, fmt.Errorf("invalid stored datetime %q", raw)
	}
	t := FromDayCount(days, ms)
	if IsDateSentinel(t) {
		return time.Time{}, nil
	}
	return t, nil
}

// TruncateToDate drops the time of day
func TruncateToDate(t time.Time) time.Time {
	if IsDefaultDateTime(t) {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TruncateToMillis drops sub-millisecond precision, which storage cannot hold
func TruncateToMillis(t time.Time) time.Time {
	if IsDefaultDateTime(t) {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}
