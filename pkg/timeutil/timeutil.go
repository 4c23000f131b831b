// Package timeutil centralizes timezone handling and the date formats used
// by the external ticketing systems. All business logic operates in the
// Argentina timezone regardless of host configuration.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// TimezoneName is the IANA zone every timestamp is interpreted in.
const TimezoneName = "America/Argentina/Buenos_Aires"

const (
	// SplynxLayout is the format Splynx uses in API payloads (ISO-like).
	SplynxLayout = "2006-01-02 15:04:05"
	// CRMLayout is the day-first format the CRM webhooks send.
	CRMLayout = "02-01-2006 15:04:05"
	// CRMDateLayout covers webhook payloads that omit the time component.
	CRMDateLayout = "02-01-2006"
)

var location *time.Location

func init() {
	loc, err := time.LoadLocation(TimezoneName)
	if err != nil {
		// tzdata missing on the host; fall back to the fixed offset
		// (Argentina does not observe DST).
		loc = time.FixedZone("-03", -3*60*60)
	}
	location = loc
}

// Location returns the Argentina timezone.
func Location() *time.Location {
	return location
}

// Now returns the current time in the Argentina timezone.
func Now() time.Time {
	return time.Now().In(location)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock in the Argentina timezone.
type RealClock struct{}

func (RealClock) Now() time.Time { return Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T.In(location) }

// ParseSplynx parses a Splynx-format timestamp in the Argentina timezone.
func ParseSplynx(value string) (time.Time, error) {
	t, err := time.ParseInLocation(SplynxLayout, strings.TrimSpace(value), location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid splynx timestamp %q: %w", value, err)
	}
	return t, nil
}

// ParseCRM parses the day-first format the CRM webhooks use, accepting a
// date-only payload by assuming midnight.
func ParseCRM(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation(CRMLayout, value, location); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(CRMDateLayout, value, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid crm timestamp %q: %w", value, err)
	}
	return t, nil
}

// ParseAny tries the Splynx format first, then the CRM formats. Used for
// fields whose origin cannot be determined from context.
func ParseAny(value string) (time.Time, error) {
	if t, err := ParseSplynx(value); err == nil {
		return t, nil
	}
	t, err := ParseCRM(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
	}
	return t, nil
}

// FormatSplynx renders t in the Splynx payload format.
func FormatSplynx(t time.Time) string {
	return t.In(location).Format(SplynxLayout)
}

// ClampFuture returns t unless it is after now, in which case now is
// returned. External systems occasionally report update timestamps ahead of
// our clock and a future last_update would suppress alerting indefinitely.
func ClampFuture(t, now time.Time) time.Time {
	if t.After(now) {
		return now
	}
	return t
}

// MinutesSince returns whole minutes elapsed from t to now, never negative.
func MinutesSince(t, now time.Time) int64 {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int64(d.Minutes())
}

// IsWeekend reports whether t falls on Saturday or Sunday in the Argentina
// timezone.
func IsWeekend(t time.Time) bool {
	wd := t.In(location).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// WithinHours reports whether t's hour falls in [startHour, endHour).
func WithinHours(t time.Time, startHour, endHour int) bool {
	h := t.In(location).Hour()
	return h >= startHour && h < endHour
}

// ParseHHMM parses a "HH:MM" schedule boundary into minutes since midnight.
func ParseHHMM(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MinutesOfDay returns t's minutes since midnight in the Argentina timezone.
func MinutesOfDay(t time.Time) int {
	lt := t.In(location)
	return lt.Hour()*60 + lt.Minute()
}
