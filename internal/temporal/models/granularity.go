package models

import (
	"fmt"
	"time"
)

// Granularity selects how dates are normalised, compared and formatted.
type Granularity string

const (
	// GranularityDate keeps only the calendar day (UTC midnight), formatted 2006-01-02.
	GranularityDate Granularity = "date"
	// GranularityDateTime keeps second precision in UTC, formatted RFC 3339.
	GranularityDateTime Granularity = "datetime"
)

func (g Granularity) IsValid() bool {
	return g == GranularityDate || g == GranularityDateTime
}

// Normalize truncates t to the granularity. The zero time stays zero.
func (g Granularity) Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	if g == GranularityDate {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Second)
}

// NormalizePeriod normalises both bounds of p.
func (g Granularity) NormalizePeriod(p TimePeriod) TimePeriod {
	return TimePeriod{Effective: g.Normalize(p.Effective), Expiration: g.Normalize(p.Expiration)}
}

// Format renders t; the zero time renders as "".
func (g Granularity) Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if g == GranularityDate {
		return t.UTC().Format(time.DateOnly)
	}
	return t.UTC().Format(time.RFC3339)
}

// Parse accepts either layout and normalises the result. "" parses to the zero time.
func (g Granularity) Parse(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s %q: expected YYYY-MM-DD or RFC 3339", g, s)
		}
	}
	return g.Normalize(t), nil
}

// Today normalises now to the granularity.
func (g Granularity) Today(now time.Time) time.Time {
	return g.Normalize(now)
}
