package models

// Clamp is the outcome of fitting a period inside a parent period.
// Collapsed means nothing of the period survives and the record must be
// deleted rather than saved.
type Clamp struct {
	Period    TimePeriod
	Changed   bool
	Collapsed bool
}

// Clamp returns p narrowed so parent.eff <= eff and exp <= parent.exp.
func (p TimePeriod) Clamp(parent TimePeriod) Clamp {
	clamped := p
	if parent.Effective.After(clamped.Effective) {
		clamped.Effective = parent.Effective
	}
	if !parent.IsOpen() && (clamped.IsOpen() || parent.Expiration.Before(clamped.Expiration)) {
		clamped.Expiration = parent.Expiration
	}
	return Clamp{
		Period:    clamped,
		Changed:   !clamped.Equal(p),
		Collapsed: clamped.IsNonsensical(),
	}
}
