package models

import (
	"sort"
	"time"

	"validity/pkg/domain"
)

// ChangeSet holds the prior value of every modified field. A nil time pointer
// means the field is unchanged; a pointer to the zero time means it was unset.
type ChangeSet struct {
	Effective  *time.Time
	Expiration *time.Time
	Attributes map[string]string
	Parents    map[string]domain.RecordID
}

func (c *ChangeSet) setAttribute(name, prior string) {
	if c.Attributes == nil {
		c.Attributes = map[string]string{}
	}
	c.Attributes[name] = prior
}

func (c *ChangeSet) setParent(name string, prior domain.RecordID) {
	if c.Parents == nil {
		c.Parents = map[string]domain.RecordID{}
	}
	c.Parents[name] = prior
}

func (c ChangeSet) IsEmpty() bool {
	return c.Effective == nil && c.Expiration == nil && len(c.Attributes) == 0 && len(c.Parents) == 0
}

func (c ChangeSet) EffectiveChanged() bool {
	return c.Effective != nil
}

func (c ChangeSet) ExpirationChanged() bool {
	return c.Expiration != nil
}

// PeriodChanged reports a change to either bound.
func (c ChangeSet) PeriodChanged() bool {
	return c.Effective != nil || c.Expiration != nil
}

// Fields names every changed field in sorted order, using the given names
// for the two bounds.
func (c ChangeSet) Fields(effectiveField, expirationField string) []string {
	var names []string
	if c.Effective != nil {
		names = append(names, effectiveField)
	}
	if c.Expiration != nil {
		names = append(names, expirationField)
	}
	for name := range c.Attributes {
		names = append(names, name)
	}
	for name := range c.Parents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
