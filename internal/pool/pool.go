// Package pool provides the per-cycle snapshot caches of hosts, pending VMs, users and ACL
// rules. Every SetUp discards the previous snapshot before fetching a new one, so a failed
// fetch leaves the pool empty rather than stale.
package pool

import (
	"fmt"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// Pool is an id-indexed snapshot that remembers arrival order. It is owned by the
// scheduling cycle and is not safe for concurrent use.
type Pool[V any] struct {
	kind  string
	id    func(*V) int
	order []*V
	byID  map[int]*V
}

func newPool[V any](kind string, id func(*V) int) Pool[V] {
	return Pool[V]{
		kind: kind,
		id:   id,
		byID: make(map[int]*V),
	}
}

// Get returns the view with the given id.
func (p *Pool[V]) Get(id int) (*V, error) {
	v, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", domain.ErrNotFound, p.kind, id)
	}
	return v, nil
}

// All returns the views in snapshot arrival order.
func (p *Pool[V]) All() []*V {
	return p.order
}

// Len returns the number of views in the pool.
func (p *Pool[V]) Len() int {
	return len(p.order)
}

func (p *Pool[V]) clear() {
	p.order = nil
	p.byID = make(map[int]*V)
}

// add stores a copy of v. A later view with the same id replaces the earlier one but
// keeps its position.
func (p *Pool[V]) add(v V) {
	id := p.id(&v)
	if existing, ok := p.byID[id]; ok {
		*existing = v
		return
	}
	stored := &v
	p.byID[id] = stored
	p.order = append(p.order, stored)
}
