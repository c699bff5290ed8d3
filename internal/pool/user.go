package pool

import (
	"context"
	"fmt"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// UserLister fetches the users.
type UserLister interface {
	ListUsers(ctx context.Context) ([]domain.UserView, error)
}

// UserPool caches the users.
type UserPool struct {
	Pool[domain.UserView]

	source UserLister
}

// NewUserPool creates a user pool.
func NewUserPool(source UserLister) *UserPool {
	return &UserPool{
		Pool:   newPool("user", func(u *domain.UserView) int { return u.ID }),
		source: source,
	}
}

// SetUp replaces the snapshot with a fresh fetch.
func (p *UserPool) SetUp(ctx context.Context) error {
	p.clear()

	users, err := p.source.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch users: %w", err)
	}
	for _, u := range users {
		p.add(u)
	}
	return nil
}
