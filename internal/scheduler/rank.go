package scheduler

import (
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// Rank sets every candidate's priority to the sum of the configured policies'
// contributions. VMs without candidates are left alone.
func (s *Scheduler) Rank(vms []*domain.VMView) {
	for _, vm := range vms {
		if len(vm.Candidates) == 0 {
			continue
		}

		hosts := make([]*domain.HostView, 0, len(vm.Candidates))
		kept := vm.Candidates[:0]
		for _, c := range vm.Candidates {
			h, err := s.hosts.Get(c.HostID)
			if err != nil {
				s.logger.Warn("Candidate host vanished from snapshot", zap.Int("vm_id", vm.ID), zap.Error(err))
				continue
			}
			hosts = append(hosts, h)
			kept = append(kept, c)
		}
		vm.Candidates = kept

		total := make([]float64, len(hosts))
		for _, p := range s.policies {
			for i, v := range p.Priorities(s.exprs, vm, hosts) {
				if i < len(total) {
					total[i] += v
				}
			}
		}
		vm.SetPriorities(total)
	}
}
