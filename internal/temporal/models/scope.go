package models

import (
	"net/url"
	"strings"
)

// ScopeKey is one (field, value) pair of a uniqueness scope.
type ScopeKey struct {
	Field string
	Value string
}

// Scope partitions records of a kind into independent timelines. Within a
// scope no two records may overlap.
type Scope struct {
	Kind string
	Keys []ScopeKey
}

// ScopeOf builds the scope of r for the given ordered scope fields. Missing
// fields resolve to "".
func ScopeOf(r *Record, fields []string) Scope {
	s := Scope{Kind: r.Kind, Keys: make([]ScopeKey, 0, len(fields))}
	for _, f := range fields {
		v, _ := r.Field(f)
		s.Keys = append(s.Keys, ScopeKey{Field: f, Value: v})
	}
	return s
}

// IsEmpty reports a scope without fields; such records are never checked for uniqueness.
func (s Scope) IsEmpty() bool {
	return len(s.Keys) == 0
}

// Matches reports whether r belongs to the scope.
func (s Scope) Matches(r *Record) bool {
	if r.Kind != s.Kind {
		return false
	}
	for _, k := range s.Keys {
		v, _ := r.Field(k.Field)
		if v != k.Value {
			return false
		}
	}
	return true
}

// String is a stable key for the scope, used for locking.
func (s Scope) String() string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(s.Kind))
	for _, k := range s.Keys {
		b.WriteByte('|')
		b.WriteString(url.QueryEscape(k.Field))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Value))
	}
	return b.String()
}
