package core

import (
	"context"
	"fmt"

	"obsstore/pkg/domain"
)

// Caches memoise unit and codespace lookups for one top-level persist call
// and every child persister it spawns.
type Caches struct {
	units      map[string]domain.Unit
	codespaces map[string]domain.Codespace
}

// NewCaches returns empty caches.
func NewCaches() *Caches {
	return &Caches{
		units:      make(map[string]domain.Unit),
		codespaces: make(map[string]domain.Codespace),
	}
}

func (c *Caches) unit(ctx context.Context, reg domain.Registry, symbol string) (domain.Unit, error) {
	if u, ok := c.units[symbol]; ok {
		return u, nil
	}
	u, err := reg.GetOrInsertUnit(ctx, symbol)
	if err != nil {
		return domain.Unit{}, domain.WrapStorage(fmt.Sprintf("unit %s", symbol), err)
	}
	c.units[symbol] = u
	return u, nil
}

func (c *Caches) codespace(ctx context.Context, reg domain.Registry, name string) (domain.Codespace, error) {
	if cs, ok := c.codespaces[name]; ok {
		return cs, nil
	}
	cs, err := reg.GetOrInsertCodespace(ctx, name)
	if err != nil {
		return domain.Codespace{}, domain.WrapStorage(fmt.Sprintf("codespace %s", name), err)
	}
	c.codespaces[name] = cs
	return cs, nil
}

// OfferingSet accumulates the offerings touched by a persist call in first
// touch order. It is the only state the call tree mutates in common.
type OfferingSet struct {
	order []domain.Offering
	index map[string]int
}

// NewOfferingSet returns a set seeded with the given offerings.
func NewOfferingSet(seed ...domain.Offering) *OfferingSet {
	s := &OfferingSet{index: make(map[string]int)}
	for _, o := range seed {
		s.Add(o)
	}
	return s
}

// Add records o, reporting whether it was new.
func (s *OfferingSet) Add(o domain.Offering) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[o.Identifier]; ok {
		return false
	}
	s.index[o.Identifier] = len(s.order)
	s.order = append(s.order, o)
	return true
}

// Contains reports whether an offering with the identifier was added.
func (s *OfferingSet) Contains(identifier string) bool {
	_, ok := s.index[identifier]
	return ok
}

// Len returns the number of offerings.
func (s *OfferingSet) Len() int { return len(s.order) }

// List returns the offerings in first touch order.
func (s *OfferingSet) List() []domain.Offering {
	return append([]domain.Offering(nil), s.order...)
}
