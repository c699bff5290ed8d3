package pool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// HostLister fetches the host snapshot.
type HostLister interface {
	ListHosts(ctx context.Context) ([]domain.HostView, error)
}

// HostPool caches the schedulable hosts. Disabled and failed hosts are left out.
type HostPool struct {
	Pool[domain.HostView]

	source    HostLister
	threshold float64
	logger    *zap.Logger
}

// NewHostPool creates a host pool. threshold applies to hosts that report none.
func NewHostPool(source HostLister, threshold float64, logger *zap.Logger) *HostPool {
	return &HostPool{
		Pool:      newPool("host", func(h *domain.HostView) int { return h.ID }),
		source:    source,
		threshold: threshold,
		logger:    logger.With(zap.String("component", "host-pool")),
	}
}

// SetUp replaces the snapshot with a fresh fetch.
func (p *HostPool) SetUp(ctx context.Context) error {
	p.clear()

	hosts, err := p.source.ListHosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch hosts: %w", err)
	}

	skipped := 0
	for _, h := range hosts {
		if h.State == domain.HostStateDisabled || h.State == domain.HostStateError {
			skipped++
			continue
		}
		if h.Threshold <= 0 {
			h.Threshold = p.threshold
		}
		p.add(h)
	}

	p.logger.Debug("Host pool loaded", zap.Int("hosts", p.Len()), zap.Int("skipped", skipped))
	return nil
}
