package feed

import (
	"fmt"
	"strings"
	"time"
)

// Output layouts for normalized values.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04"
)

var dateLayouts = []string{DateLayout, "20060102", "01/02/2006"}

var dateTimeLayouts = []string{
	DateTimeLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"200601021504",
}

// ParseDate accepts ISO, X12 (CCYYMMDD) and US slash dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseDateTime accepts the common ISO forms. Values without a zone are
// taken as UTC.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

// X12DateTime combines an X12 date (CCYYMMDD) and optional time (HHMM or
// HHMMSS) into one instant.
func X12DateTime(date, clock string) (time.Time, error) {
	d, err := time.Parse("20060102", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized X12 date %q", date)
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return d, nil
	}
	for _, layout := range []string{"1504", "150405"} {
		if c, err := time.Parse(layout, clock); err == nil {
			return d.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute + time.Duration(c.Second())*time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized X12 time %q", clock)
}
