package pool

import (
	"context"
	"fmt"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// ACLLister fetches the ACL rules.
type ACLLister interface {
	ListACLRules(ctx context.Context) ([]domain.ACLRule, error)
}

// ACLPool caches the ACL rules.
type ACLPool struct {
	Pool[domain.ACLRule]

	source ACLLister
}

// NewACLPool creates an ACL rule pool.
func NewACLPool(source ACLLister) *ACLPool {
	return &ACLPool{
		Pool:   newPool("acl rule", func(r *domain.ACLRule) int { return r.ID }),
		source: source,
	}
}

// SetUp replaces the snapshot with a fresh fetch.
func (p *ACLPool) SetUp(ctx context.Context) error {
	p.clear()

	rules, err := p.source.ListACLRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch ACL rules: %w", err)
	}
	for _, r := range rules {
		p.add(r)
	}
	return nil
}

// Rules returns a copy of the cached rules in arrival order.
func (p *ACLPool) Rules() []domain.ACLRule {
	rules := make([]domain.ACLRule, 0, p.Len())
	for _, r := range p.All() {
		rules = append(rules, *r)
	}
	return rules
}
