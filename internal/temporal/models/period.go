package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	dErrors "validity/pkg/domain-errors"
)

// TimePeriod is the half-open interval [Effective, Expiration).
// A zero Expiration means the period never expires.
type TimePeriod struct {
	Effective  time.Time
	Expiration time.Time
}

// Temporal is anything that exposes a validity period; records and periods
// both satisfy it so predicates can mix the two.
type Temporal interface {
	Period() TimePeriod
}

func NewTimePeriod(effective, expiration time.Time) TimePeriod {
	return TimePeriod{Effective: effective, Expiration: expiration}
}

func (p TimePeriod) Period() TimePeriod {
	return p
}

// IsOpen reports whether the period never expires.
func (p TimePeriod) IsOpen() bool {
	return p.Expiration.IsZero()
}

// IsNonsensical reports a closed period of zero or negative length.
func (p TimePeriod) IsNonsensical() bool {
	return !p.IsOpen() && !p.Effective.Before(p.Expiration)
}

// IsInstantaneous reports effective == expiration.
func (p TimePeriod) IsInstantaneous() bool {
	return !p.IsOpen() && p.Effective.Equal(p.Expiration)
}

// Validate fails with CodeNonsensicalInterval unless p is open or has positive length.
func (p TimePeriod) Validate() error {
	if !p.IsNonsensical() {
		return nil
	}
	if p.IsInstantaneous() {
		return dErrors.New(dErrors.CodeNonsensicalInterval,
			fmt.Sprintf("period %s is instantaneous: effective equals expiration", p))
	}
	return dErrors.New(dErrors.CodeNonsensicalInterval,
		fmt.Sprintf("period %s expires before it becomes effective", p))
}

func (p TimePeriod) Equal(o TimePeriod) bool {
	return p.Effective.Equal(o.Effective) && p.Expiration.Equal(o.Expiration)
}

// ContainsDate reports effective <= d < expiration. The zero date is never contained.
func (p TimePeriod) ContainsDate(d time.Time) bool {
	if d.IsZero() {
		return false
	}
	if d.Before(p.Effective) {
		return false
	}
	if p.IsOpen() {
		return true
	}
	return d.Before(p.Expiration)
}

// ContainsPeriod reports whether p engulfs o, sharing an expiration allowed.
func (p TimePeriod) ContainsPeriod(o TimePeriod) bool {
	return p.containsPeriod(o, true)
}

// ContainsPeriodExclusive is ContainsPeriod requiring p to expire strictly after o.
func (p TimePeriod) ContainsPeriodExclusive(o TimePeriod) bool {
	return p.containsPeriod(o, false)
}

func (p TimePeriod) containsPeriod(o TimePeriod, expInclusive bool) bool {
	if o.Effective.Before(p.Effective) {
		return false
	}
	if p.IsOpen() {
		return true
	}
	if o.IsOpen() {
		return false
	}
	if p.Expiration.Before(o.Expiration) {
		return false
	}
	if !expInclusive && p.Expiration.Equal(o.Expiration) {
		return false
	}
	return true
}

// Overlaps is false only when one period ends at or before the other starts.
func (p TimePeriod) Overlaps(o TimePeriod) bool {
	if !o.IsOpen() && !o.Expiration.After(p.Effective) {
		return false
	}
	if !p.IsOpen() && !p.Expiration.After(o.Effective) {
		return false
	}
	return true
}

// Borders reports exact abutment in either direction.
func (p TimePeriod) Borders(o TimePeriod) bool {
	if !o.IsOpen() && o.Expiration.Equal(p.Effective) {
		return true
	}
	if !p.IsOpen() && p.Expiration.Equal(o.Effective) {
		return true
	}
	return false
}

// Begins reports that o contains p and both start together.
func (p TimePeriod) Begins(o TimePeriod) bool {
	if !o.ContainsPeriod(p) {
		return false
	}
	return p.Effective.Equal(o.Effective)
}

// Ends reports that o contains p and both end together. Two open ends are equal.
func (p TimePeriod) Ends(o TimePeriod) bool {
	if !o.ContainsPeriod(p) {
		return false
	}
	return p.Expiration.Equal(o.Expiration)
}

// EndsBefore reports that p expires before o. An open p never ends before anything.
func (p TimePeriod) EndsBefore(o TimePeriod) bool {
	if p.IsOpen() {
		return false
	}
	if o.IsOpen() {
		return true
	}
	return p.Expiration.Before(o.Expiration)
}

// EndsBeforeDate is EndsBefore against the instant [d, d).
func (p TimePeriod) EndsBeforeDate(d time.Time) bool {
	return p.EndsBefore(TimePeriod{Effective: d, Expiration: d})
}

// IsExpired reports expiration <= now.
func (p TimePeriod) IsExpired(now time.Time) bool {
	if p.IsOpen() {
		return false
	}
	return !p.Expiration.After(now)
}

// LengthDays returns whole days between the day-truncated bounds; ok is false
// for open periods. Truncation keeps a morning-to-afternoon span from counting
// as an extra day.
func (p TimePeriod) LengthDays() (days int, ok bool) {
	if p.IsOpen() || p.Effective.IsZero() {
		return 0, false
	}
	eff := GranularityDate.Normalize(p.Effective)
	exp := GranularityDate.Normalize(p.Expiration)
	return int(math.Floor(exp.Sub(eff).Hours() / 24)), true
}

// WithLengthDays returns p expiring the given number of days after it starts.
func (p TimePeriod) WithLengthDays(days int) TimePeriod {
	if p.Effective.IsZero() {
		return p
	}
	return TimePeriod{Effective: p.Effective, Expiration: p.Effective.AddDate(0, 0, days)}
}

func (p TimePeriod) String() string {
	g := GranularityDateTime
	if isMidnight(p.Effective) && (p.IsOpen() || isMidnight(p.Expiration)) {
		g = GranularityDate
	}
	exp := "null"
	if !p.IsOpen() {
		exp = g.Format(p.Expiration)
	}
	return "[" + g.Format(p.Effective) + ", " + exp + ")"
}

func isMidnight(t time.Time) bool {
	t = t.UTC()
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// Coalesce merges periods that meet or overlap and returns the most concise
// ordered set of disjoint, non-bordering periods covering the input.
// An open period absorbs everything that starts after it.
func Coalesce(periods []TimePeriod) []TimePeriod {
	if len(periods) == 0 {
		return nil
	}
	sorted := make([]TimePeriod, len(periods))
	copy(sorted, periods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Effective.Before(sorted[j].Effective)
	})

	out := make([]TimePeriod, 0, len(sorted))
	for _, p := range sorted {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		working := &out[len(out)-1]
		if working.IsOpen() {
			continue
		}
		if !working.Expiration.Before(p.Effective) {
			if p.IsOpen() {
				working.Expiration = time.Time{}
			} else if p.Expiration.After(working.Expiration) {
				working.Expiration = p.Expiration
			}
			continue
		}
		out = append(out, p)
	}
	return out
}
