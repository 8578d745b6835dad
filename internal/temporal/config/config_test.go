package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validity/internal/temporal/models"
)

func validPolicy() Policy {
	return Policy{
		Kind:            "position",
		Granularity:     models.GranularityDate,
		EffectiveField:  "starts_on",
		ExpirationField: "ends_on",
		ScopeFields:     []string{"person"},
		Parents:         []string{"person"},
		Strategy:        StrategyShift,
		CascadeMode:     CascadeBestEffort,
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Run("valid policy", func(t *testing.T) {
		assert.NoError(t, validPolicy().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Policy)
		errMsg string
	}{
		{"missing kind", func(p *Policy) { p.Kind = "" }, "kind is required"},
		{"bad granularity", func(p *Policy) { p.Granularity = "week" }, "granularity"},
		{"missing effective field", func(p *Policy) { p.EffectiveField = "" }, "effective_field is required"},
		{"same date fields", func(p *Policy) { p.ExpirationField = p.EffectiveField }, "must differ"},
		{"unknown strategy", func(p *Policy) { p.Strategy = "merge" }, "strategy"},
		{"missing cascade mode", func(p *Policy) { p.CascadeMode = "" }, "cascade_mode"},
		{"date field in scope", func(p *Policy) { p.ScopeFields = []string{"starts_on"} }, "cannot be a date field"},
		{"duplicate scope field", func(p *Policy) { p.ScopeFields = []string{"a", "a"} }, "listed twice"},
		{"incomplete child", func(p *Policy) { p.Children = []ChildRelation{{Kind: "x"}} }, "needs kind and relation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		err := Policy{Kind: "x"}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "granularity")
		assert.Contains(t, err.Error(), "strategy")
		assert.Contains(t, err.Error(), "cascade_mode")
	})
}

const sampleFile = `
policies:
  - kind: contract
    granularity: date
    effective_field: starts_on
    expiration_field: ends_on
    scope_fields: [person, role]
    parents: [person]
    strategy: reject
    cascade_mode: strict
segmented:
  - parent_kind: person
    segment_kind: person_segment
    granularity: date
    parent_relation: person
    parent_effective_field: born_on
    parent_expiration_field: died_on
    segment_effective_field: starts_on
    segment_expiration_field: ends_on
    parent_children:
      - kind: contract
        relation: person
    strategy: shift
    extend_neighbors: true
    cascade_mode: best_effort
`

func TestParse(t *testing.T) {
	t.Run("decodes policies and segmented kinds", func(t *testing.T) {
		f, err := Parse([]byte(sampleFile))
		require.NoError(t, err)
		require.Len(t, f.Policies, 1)
		require.Len(t, f.Segmented, 1)

		p := f.Policies[0]
		assert.Equal(t, "contract", p.Kind)
		assert.Equal(t, []string{"person", "role"}, p.ScopeFields)
		assert.Equal(t, StrategyReject, p.Strategy)
		assert.Equal(t, CascadeStrict, p.CascadeMode)

		s := f.Segmented[0]
		assert.Equal(t, "person_segment", s.SegmentKind)
		assert.True(t, s.ExtendNeighbors)
		assert.Equal(t, []ChildRelation{{Kind: "contract", Relation: "person"}}, s.ParentChildren)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		_, err := Parse([]byte("policies:\n  - kind: x\n    colour: blue\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse policy file")
	})

	t.Run("rejects a kind configured twice", func(t *testing.T) {
		data := sampleFile + `
  - parent_kind: contract
    segment_kind: contract_segment
    parent_relation: contract
`
		_, err := Parse([]byte(data))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `kind "contract" configured more than once`)
	})

	t.Run("empty file is valid", func(t *testing.T) {
		f, err := Parse(nil)
		require.NoError(t, err)
		assert.Empty(t, f.Policies)
	})
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Policies, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy file")
}
