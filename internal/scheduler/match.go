package scheduler

import (
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/expr"
	"github.com/limiquantix/quantix-sched/internal/metrics"
)

// Match fills each VM's candidate set with the hosts that satisfy its requirement, that
// its owner may deploy on, and that have room for it right now. Hosts are not modified.
// It returns the number of VMs with at least one candidate.
func (s *Scheduler) Match(vms []*domain.VMView, hosts []*domain.HostView) int {
	matched := 0
	for _, vm := range vms {
		vm.Candidates = nil
		if s.matchVM(vm, hosts) {
			matched++
		}
	}
	return matched
}

func (s *Scheduler) matchVM(vm *domain.VMView, hosts []*domain.HostView) bool {
	logger := s.logger.With(zap.Int("vm_id", vm.ID))

	var requirement *expr.Expr
	if vm.Requirements != "" {
		e, err := s.exprs.Parse(vm.Requirements)
		if err != nil {
			metrics.ExpressionErrors.WithLabelValues(metrics.ExprRequirement).Inc()
			logger.Warn("Invalid requirement expression, VM will not be scheduled",
				zap.String("requirements", vm.Requirements),
				zap.Error(err),
			)
			return false
		}
		requirement = e
	}

	owner, err := s.users.Get(vm.UID)
	if err != nil {
		logger.Warn("VM owner not found, VM will not be scheduled", zap.Int("uid", vm.UID))
		return false
	}

	for _, h := range hosts {
		if requirement != nil {
			ok, err := requirement.Bool(expr.ForHost(h))
			if err != nil {
				metrics.ExpressionErrors.WithLabelValues(metrics.ExprRequirement).Inc()
				logger.Debug("Requirement evaluation failed",
					zap.Int("host_id", h.ID),
					zap.String("requirements", vm.Requirements),
					zap.Error(err),
				)
				continue
			}
			if !ok {
				continue
			}
		}

		if !s.authz.CanDeploy(owner, h) {
			logger.Debug("Owner not authorized to deploy on host", zap.Int("host_id", h.ID), zap.Int("uid", vm.UID))
			continue
		}

		// Coarse check against the oversubscribed totals, then the authoritative check
		// against what is free right now.
		if !h.Fits(vm.CPU, vm.Memory) {
			continue
		}
		if !h.HasCapacity(vm.CPU, vm.Memory, vm.Disk) {
			logger.Debug("Not enough capacity",
				zap.Int("host_id", h.ID),
				zap.Float64("free_cpu", h.FreeCPU()),
				zap.Float64("free_memory", h.FreeMemory()),
			)
			continue
		}

		vm.AddCandidate(h.ID)
	}

	return len(vm.Candidates) > 0
}
