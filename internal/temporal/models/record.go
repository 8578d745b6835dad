package models

import (
	"maps"
	"sort"
	"time"

	"validity/pkg/domain"
)

// Record is a temporal entity: a row of some kind with a validity period,
// ordinary attributes and references to parent records.
//
// A record remembers the state it was loaded or last persisted with so that
// Changes can report prior values. Stores call MarkPersisted after loading;
// the engine calls it once a save has fully completed.
type Record struct {
	ID         domain.RecordID
	Kind       string
	Effective  time.Time
	Expiration time.Time
	Attributes map[string]string
	Parents    map[string]domain.RecordID

	stored *recordState
}

type recordState struct {
	effective  time.Time
	expiration time.Time
	attributes map[string]string
	parents    map[string]domain.RecordID
}

// NewRecord returns an unsaved record with a fresh ID.
func NewRecord(kind string, period TimePeriod) *Record {
	return &Record{
		ID:         domain.NewRecordID(),
		Kind:       kind,
		Effective:  period.Effective,
		Expiration: period.Expiration,
		Attributes: map[string]string{},
		Parents:    map[string]domain.RecordID{},
	}
}

func (r *Record) Period() TimePeriod {
	return TimePeriod{Effective: r.Effective, Expiration: r.Expiration}
}

func (r *Record) SetPeriod(p TimePeriod) {
	r.Effective = p.Effective
	r.Expiration = p.Expiration
}

// PriorPeriod is the period the record was persisted with, or its current
// period when it was never persisted.
func (r *Record) PriorPeriod() TimePeriod {
	if r.stored == nil {
		return r.Period()
	}
	return TimePeriod{Effective: r.stored.effective, Expiration: r.stored.expiration}
}

// IsNew reports whether the record has never been persisted.
func (r *Record) IsNew() bool {
	return r.stored == nil
}

// MarkPersisted snapshots the current state as the stored state.
func (r *Record) MarkPersisted() {
	r.stored = &recordState{
		effective:  r.Effective,
		expiration: r.Expiration,
		attributes: maps.Clone(r.Attributes),
		parents:    maps.Clone(r.Parents),
	}
}

// Field resolves a named field against parent references first, then
// attributes. A nil parent reference counts as absent, as it does once stored.
func (r *Record) Field(name string) (string, bool) {
	if pid, ok := r.Parents[name]; ok && !pid.IsNil() {
		return pid.String(), true
	}
	v, ok := r.Attributes[name]
	return v, ok
}

// Parent returns the parent reference stored under relation.
func (r *Record) Parent(relation string) (domain.RecordID, bool) {
	pid, ok := r.Parents[relation]
	if !ok || pid.IsNil() {
		return domain.RecordID{}, false
	}
	return pid, true
}

func (r *Record) SetParent(relation string, id domain.RecordID) {
	if r.Parents == nil {
		r.Parents = map[string]domain.RecordID{}
	}
	r.Parents[relation] = id
}

func (r *Record) SetAttribute(name, value string) {
	if r.Attributes == nil {
		r.Attributes = map[string]string{}
	}
	r.Attributes[name] = value
}

// Changes returns prior values of every field that differs from the stored
// state. For a record never persisted every set field is reported with a
// zero prior value.
func (r *Record) Changes() ChangeSet {
	var prior recordState
	if r.stored != nil {
		prior = *r.stored
	}

	cs := ChangeSet{}
	if !r.Effective.Equal(prior.effective) {
		t := prior.effective
		cs.Effective = &t
	}
	if !r.Expiration.Equal(prior.expiration) {
		t := prior.expiration
		cs.Expiration = &t
	}
	for name, v := range r.Attributes {
		if old, ok := prior.attributes[name]; !ok || old != v {
			cs.setAttribute(name, old)
		}
	}
	for name := range prior.attributes {
		if _, ok := r.Attributes[name]; !ok {
			cs.setAttribute(name, prior.attributes[name])
		}
	}
	for name, v := range r.Parents {
		if old, ok := prior.parents[name]; !ok || old != v {
			cs.setParent(name, old)
		}
	}
	for name := range prior.parents {
		if _, ok := r.Parents[name]; !ok {
			cs.setParent(name, prior.parents[name])
		}
	}
	return cs
}

// Clone deep-copies the record including its stored state.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:         r.ID,
		Kind:       r.Kind,
		Effective:  r.Effective,
		Expiration: r.Expiration,
		Attributes: maps.Clone(r.Attributes),
		Parents:    maps.Clone(r.Parents),
	}
	if c.Attributes == nil {
		c.Attributes = map[string]string{}
	}
	if c.Parents == nil {
		c.Parents = map[string]domain.RecordID{}
	}
	if r.stored != nil {
		s := *r.stored
		s.attributes = maps.Clone(r.stored.attributes)
		s.parents = maps.Clone(r.stored.parents)
		c.stored = &s
	}
	return c
}

// Duplicate copies the record's data under a fresh ID as a new, unsaved record.
func (r *Record) Duplicate() *Record {
	c := r.Clone()
	c.ID = domain.NewRecordID()
	c.stored = nil
	return c
}

// SortByEffective orders records by effective date, then ID for stability.
func SortByEffective(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Effective.Equal(records[j].Effective) {
			return records[i].ID.String() < records[j].ID.String()
		}
		return records[i].Effective.Before(records[j].Effective)
	})
}
