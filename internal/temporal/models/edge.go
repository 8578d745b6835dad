package models

// Edge names one bound of a period when looking up bordering records.
type Edge int

const (
	// EdgeEffective matches records whose effective date equals the value.
	EdgeEffective Edge = iota
	// EdgeExpiration matches records whose expiration equals the value.
	EdgeExpiration
)

func (e Edge) String() string {
	if e == EdgeExpiration {
		return "expiration"
	}
	return "effective"
}
