// Package segment keeps the history of a parent record as a series of
// segment records. The parent owns the overall validity period; segments
// subdivide it and never overlap each other.
package segment

import (
	"slices"

	"validity/internal/temporal/config"
)

// Config describes one segmented parent kind.
type Config = config.Segmented

// DerivePolicies builds the parent and segment policies of cfg. The segment
// kind is scoped by, and contained in, its parent reference; the parent
// re-clamps its segments as a child collection.
func DerivePolicies(cfg Config) (parent config.Policy, seg config.Policy, err error) {
	if err := cfg.Validate(); err != nil {
		return config.Policy{}, config.Policy{}, err
	}

	parent = config.Policy{
		Kind:                   cfg.ParentKind,
		Granularity:            cfg.Granularity,
		EffectiveField:         cfg.ParentEffectiveField,
		ExpirationField:        cfg.ParentExpirationField,
		ScopeFields:            slices.Clone(cfg.ParentScopeFields),
		Parents:                slices.Clone(cfg.ParentParents),
		Children:               append(slices.Clone(cfg.ParentChildren), config.ChildRelation{Kind: cfg.SegmentKind, Relation: cfg.ParentRelation}),
		AllowPastModifications: cfg.AllowPastModifications,
		Strategy:               cfg.Strategy,
		ExtendNeighbors:        cfg.ExtendNeighbors,
		FollowParentBoundaries: cfg.FollowParentBoundaries,
		CascadeMode:            cfg.CascadeMode,
	}
	seg = config.Policy{
		Kind:                   cfg.SegmentKind,
		Granularity:            cfg.Granularity,
		EffectiveField:         cfg.SegmentEffectiveField,
		ExpirationField:        cfg.SegmentExpirationField,
		ScopeFields:            []string{cfg.ParentRelation},
		Parents:                []string{cfg.ParentRelation},
		AllowPastModifications: cfg.AllowPastModifications,
		Strategy:               cfg.Strategy,
		ExtendNeighbors:        cfg.ExtendNeighbors,
		CascadeMode:            cfg.CascadeMode,
	}

	if err := parent.Validate(); err != nil {
		return config.Policy{}, config.Policy{}, err
	}
	if err := seg.Validate(); err != nil {
		return config.Policy{}, config.Policy{}, err
	}
	return parent, seg, nil
}
