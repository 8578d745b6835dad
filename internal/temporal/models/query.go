package models

import (
	"sort"
	"time"
)

// QueryDateMode selects how a query is restricted in time.
type QueryDateMode int

const (
	// QueryDateToday restricts to records valid today. It is the zero value,
	// so an unspecified date means today.
	QueryDateToday QueryDateMode = iota
	// QueryDateDisabled returns records regardless of validity.
	QueryDateDisabled
	// QueryDateAt restricts to records valid at a given date.
	QueryDateAt
)

// QueryDate is the date a temporal query is evaluated at.
type QueryDate struct {
	Mode QueryDateMode
	At   time.Time
}

func QueryToday() QueryDate         { return QueryDate{Mode: QueryDateToday} }
func QueryAllDates() QueryDate      { return QueryDate{Mode: QueryDateDisabled} }
func QueryAt(d time.Time) QueryDate { return QueryDate{Mode: QueryDateAt, At: d} }

// Resolve returns the normalised filter date, or ok=false when filtering is disabled.
// QueryDateAt with a zero date falls back to today.
func (q QueryDate) Resolve(g Granularity, now time.Time) (time.Time, bool) {
	switch q.Mode {
	case QueryDateDisabled:
		return time.Time{}, false
	case QueryDateAt:
		if !q.At.IsZero() {
			return g.Normalize(q.At), true
		}
	}
	return g.Today(now), true
}

// Query selects records of a kind by field equality. Temporal queries are
// additionally restricted by Date; the engine resolves Date into AsOf before
// the store sees the query.
type Query struct {
	Kind     string
	Where    map[string]string
	Temporal bool
	Date     QueryDate
	AsOf     time.Time
}

// Matches reports whether r satisfies the kind, field and AsOf filters.
func (q Query) Matches(r *Record) bool {
	if r.Kind != q.Kind {
		return false
	}
	for field, want := range q.Where {
		got, _ := r.Field(field)
		if got != want {
			return false
		}
	}
	if !q.AsOf.IsZero() && !r.Period().ContainsDate(q.AsOf) {
		return false
	}
	return true
}

// WhereFields returns the filter field names in sorted order.
func (q Query) WhereFields() []string {
	fields := make([]string, 0, len(q.Where))
	for f := range q.Where {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
