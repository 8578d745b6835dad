// Package config defines the typed configuration of temporal kinds.
//
// Every option is explicit: there is no defaulting or merging at runtime.
// A Policy that does not pass Validate is never handed to the engine.
package config

import (
	"errors"
	"fmt"
	"slices"

	"validity/internal/temporal/models"
)

// Strategy decides what happens when a save overlaps an existing record of
// the same scope.
type Strategy string

const (
	// StrategyReject refuses the save with a uniqueness violation.
	StrategyReject Strategy = "reject"
	// StrategyShift truncates, splits or deletes the overlapping records to make room.
	StrategyShift Strategy = "shift"
)

// CascadeMode decides how failures of post-save cascades are reported.
type CascadeMode string

const (
	// CascadeBestEffort logs and reports cascade failures; the primary save stands.
	CascadeBestEffort CascadeMode = "best_effort"
	// CascadeStrict fails the save on the first cascade failure.
	CascadeStrict CascadeMode = "strict"
)

// ChildRelation names a kind whose records reference this kind through Relation.
type ChildRelation struct {
	Kind     string `yaml:"kind"`
	Relation string `yaml:"relation"`
}

// Policy is the temporal configuration of one record kind.
type Policy struct {
	Kind            string             `yaml:"kind"`
	Granularity     models.Granularity `yaml:"granularity"`
	EffectiveField  string             `yaml:"effective_field"`
	ExpirationField string             `yaml:"expiration_field"`

	// ScopeFields partition the kind into independent timelines. Empty means
	// records are never checked for overlap.
	ScopeFields []string `yaml:"scope_fields"`
	// Parents are relation names whose referenced records must contain this record.
	Parents []string `yaml:"parents"`
	// Children are re-clamped after every save of this kind.
	Children []ChildRelation `yaml:"children"`

	AllowPastModifications bool     `yaml:"allow_past_modifications"`
	Strategy               Strategy `yaml:"strategy"`
	// ExtendNeighbors closes gaps opened by a save by stretching the bordering records.
	ExtendNeighbors bool `yaml:"extend_neighbors"`
	// FollowParentBoundaries moves children whose boundary equalled this
	// record's old boundary along with it.
	FollowParentBoundaries bool        `yaml:"follow_parent_boundaries"`
	CascadeMode            CascadeMode `yaml:"cascade_mode"`
}

// Validate reports every configuration problem at once.
func (p Policy) Validate() error {
	var errs []error
	if p.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	if !p.Granularity.IsValid() {
		errs = append(errs, fmt.Errorf("granularity %q must be %q or %q", p.Granularity, models.GranularityDate, models.GranularityDateTime))
	}
	if p.EffectiveField == "" {
		errs = append(errs, errors.New("effective_field is required"))
	}
	if p.ExpirationField == "" {
		errs = append(errs, errors.New("expiration_field is required"))
	}
	if p.EffectiveField != "" && p.EffectiveField == p.ExpirationField {
		errs = append(errs, errors.New("effective_field and expiration_field must differ"))
	}
	switch p.Strategy {
	case StrategyReject, StrategyShift:
	default:
		errs = append(errs, fmt.Errorf("strategy %q must be %q or %q", p.Strategy, StrategyReject, StrategyShift))
	}
	switch p.CascadeMode {
	case CascadeBestEffort, CascadeStrict:
	default:
		errs = append(errs, fmt.Errorf("cascade_mode %q must be %q or %q", p.CascadeMode, CascadeBestEffort, CascadeStrict))
	}
	for _, f := range p.ScopeFields {
		if f == "" {
			errs = append(errs, errors.New("scope_fields must not contain empty names"))
		}
		if f == p.EffectiveField || f == p.ExpirationField {
			errs = append(errs, fmt.Errorf("scope field %q cannot be a date field", f))
		}
	}
	if dup := firstDuplicate(p.ScopeFields); dup != "" {
		errs = append(errs, fmt.Errorf("scope field %q listed twice", dup))
	}
	for _, rel := range p.Parents {
		if rel == "" {
			errs = append(errs, errors.New("parents must not contain empty relation names"))
		}
	}
	for _, c := range p.Children {
		if c.Kind == "" || c.Relation == "" {
			errs = append(errs, fmt.Errorf("child relation %+v needs kind and relation", c))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("policy %q: %w", p.Kind, errors.Join(errs...))
	}
	return nil
}

// HasScope reports whether records of the kind are checked for overlap.
func (p Policy) HasScope() bool {
	return len(p.ScopeFields) > 0
}

func firstDuplicate(values []string) string {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return sorted[i]
		}
	}
	return ""
}

// Segmented describes a parent kind whose history is kept as a series of
// segment records. Both kinds' policies are derived from it.
type Segmented struct {
	ParentKind  string             `yaml:"parent_kind"`
	SegmentKind string             `yaml:"segment_kind"`
	Granularity models.Granularity `yaml:"granularity"`

	// ParentRelation is the relation on a segment that references its parent.
	ParentRelation string `yaml:"parent_relation"`

	ParentEffectiveField   string `yaml:"parent_effective_field"`
	ParentExpirationField  string `yaml:"parent_expiration_field"`
	SegmentEffectiveField  string `yaml:"segment_effective_field"`
	SegmentExpirationField string `yaml:"segment_expiration_field"`

	// ParentScopeFields and ParentParents configure the parent kind itself.
	ParentScopeFields []string        `yaml:"parent_scope_fields"`
	ParentParents     []string        `yaml:"parent_parents"`
	ParentChildren    []ChildRelation `yaml:"parent_children"`

	AllowPastModifications bool        `yaml:"allow_past_modifications"`
	Strategy               Strategy    `yaml:"strategy"`
	ExtendNeighbors        bool        `yaml:"extend_neighbors"`
	FollowParentBoundaries bool        `yaml:"follow_parent_boundaries"`
	CascadeMode            CascadeMode `yaml:"cascade_mode"`
}

// Validate checks the fields the derived policies cannot check themselves.
func (s Segmented) Validate() error {
	var errs []error
	if s.ParentKind == "" {
		errs = append(errs, errors.New("parent_kind is required"))
	}
	if s.SegmentKind == "" {
		errs = append(errs, errors.New("segment_kind is required"))
	}
	if s.ParentKind != "" && s.ParentKind == s.SegmentKind {
		errs = append(errs, errors.New("parent_kind and segment_kind must differ"))
	}
	if s.ParentRelation == "" {
		errs = append(errs, errors.New("parent_relation is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("segmented %q: %w", s.ParentKind, errors.Join(errs...))
	}
	return nil
}
