package pool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// VMLister fetches pending VMs.
type VMLister interface {
	ListPendingVMs(ctx context.Context, limit int) ([]domain.VMView, error)
}

// VMPool caches at most limit pending VMs.
type VMPool struct {
	Pool[domain.VMView]

	source VMLister
	limit  int
	logger *zap.Logger
}

// NewVMPool creates a VM pool. A limit of 0 fetches every pending VM.
func NewVMPool(source VMLister, limit int, logger *zap.Logger) *VMPool {
	return &VMPool{
		Pool:   newPool("vm", func(v *domain.VMView) int { return v.ID }),
		source: source,
		limit:  limit,
		logger: logger.With(zap.String("component", "vm-pool")),
	}
}

// SetUp replaces the snapshot with a fresh fetch. VMs the store reports in any state other
// than pending are ignored.
func (p *VMPool) SetUp(ctx context.Context) error {
	p.clear()

	vms, err := p.source.ListPendingVMs(ctx, p.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch pending VMs: %w", err)
	}

	for _, v := range vms {
		if !v.IsPending() {
			continue
		}
		if p.limit > 0 && p.Len() >= p.limit {
			break
		}
		v.Candidates = nil
		v.Dispatched = false
		p.add(v)
	}

	p.logger.Debug("VM pool loaded", zap.Int("pending_vms", p.Len()))
	return nil
}
