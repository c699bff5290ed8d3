package scheduler

import (
	"context"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// Store is the authoritative resource store as seen by the scheduler.
type Store interface {
	// ListHosts returns every host known to the store.
	ListHosts(ctx context.Context) ([]domain.HostView, error)

	// ListPendingVMs returns at most limit pending VMs (0 = all) in arrival order.
	ListPendingVMs(ctx context.Context, limit int) ([]domain.VMView, error)

	// ListUsers returns every user.
	ListUsers(ctx context.Context) ([]domain.UserView, error)

	// ListACLRules returns the ACL rules used to decide deploy permission.
	ListACLRules(ctx context.Context) ([]domain.ACLRule, error)

	// DispatchVM deploys the VM on the host.
	DispatchVM(ctx context.Context, vmID, hostID int) error
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Reporter receives the report of every finished cycle. Reporter errors are logged and
// never affect scheduling.
type Reporter interface {
	Report(ctx context.Context, report *domain.CycleReport) error
}
