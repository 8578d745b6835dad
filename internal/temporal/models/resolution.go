package models

// ShiftAction is what the shift strategy does to an overlapping neighbour.
type ShiftAction int

const (
	// ShiftNone: the neighbour does not overlap.
	ShiftNone ShiftAction = iota
	// ShiftDelete: the incoming period engulfs the neighbour, or supersedes it forever.
	ShiftDelete
	// ShiftTruncate: the neighbour now expires where the incoming period starts.
	ShiftTruncate
	// ShiftPushStart: the neighbour now starts where the incoming period expires.
	ShiftPushStart
	// ShiftSplit: truncate, and keep the tail of the neighbour as a separate remainder.
	ShiftSplit
)

func (a ShiftAction) String() string {
	switch a {
	case ShiftDelete:
		return "delete"
	case ShiftTruncate:
		return "truncate"
	case ShiftPushStart:
		return "push_start"
	case ShiftSplit:
		return "split"
	default:
		return "none"
	}
}

// Resolution describes how a neighbour makes room for an incoming period.
// Neighbor is the neighbour's period afterwards (unused for ShiftDelete);
// Remainder is set only for ShiftSplit.
type Resolution struct {
	Action    ShiftAction
	Neighbor  TimePeriod
	Remainder *TimePeriod
}

// Resolve decides how existing must change so that p fits. Cases are evaluated
// in order: p contains existing; existing contains p; existing starts before
// p; existing starts after p.
func (p TimePeriod) Resolve(existing TimePeriod) Resolution {
	if !p.Overlaps(existing) {
		return Resolution{Action: ShiftNone, Neighbor: existing}
	}

	if p.ContainsPeriod(existing) {
		return Resolution{Action: ShiftDelete}
	}

	if existing.ContainsPeriod(p) {
		if p.Begins(existing) {
			return Resolution{
				Action:   ShiftPushStart,
				Neighbor: TimePeriod{Effective: p.Expiration, Expiration: existing.Expiration},
			}
		}
		truncated := TimePeriod{Effective: existing.Effective, Expiration: p.Effective}
		if p.Ends(existing) {
			return Resolution{Action: ShiftTruncate, Neighbor: truncated}
		}
		remainder := TimePeriod{Effective: p.Expiration, Expiration: existing.Expiration}
		return Resolution{Action: ShiftSplit, Neighbor: truncated, Remainder: &remainder}
	}

	if existing.Effective.Before(p.Effective) {
		return Resolution{
			Action:   ShiftTruncate,
			Neighbor: TimePeriod{Effective: existing.Effective, Expiration: p.Effective},
		}
	}

	if p.IsOpen() {
		return Resolution{Action: ShiftDelete}
	}
	return Resolution{
		Action:   ShiftPushStart,
		Neighbor: TimePeriod{Effective: p.Expiration, Expiration: existing.Expiration},
	}
}
