package scheduler

import (
	"context"
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/metrics"
)

// dispatchState holds the admission counters of one cycle.
type dispatchState struct {
	total      int
	perHost    map[int]int
	placements []domain.Placement
	rejected   map[int]string
}

func newDispatchState() *dispatchState {
	return &dispatchState{
		perHost:  make(map[int]int),
		rejected: make(map[int]string),
	}
}

func (st *dispatchState) accept(vm *domain.VMView, h *domain.HostView, priority float64) {
	st.total++
	st.perHost[h.ID]++
	st.placements = append(st.placements, domain.Placement{VMID: vm.ID, HostID: h.ID, Priority: priority})
	h.Reserve(vm.CPU, vm.Memory, vm.Disk)
	vm.Dispatched = true
}

func (st *dispatchState) reject(vm *domain.VMView, reason string) {
	st.rejected[vm.ID] = reason
	metrics.VMsRejected.WithLabelValues(reason).Inc()
}

// Dispatch places each VM, in arrival order, on its best candidate that is still
// admissible, and returns the number of VMs dispatched.
func (s *Scheduler) Dispatch(ctx context.Context, vms []*domain.VMView) int {
	return s.dispatch(ctx, vms).total
}

func (s *Scheduler) dispatch(ctx context.Context, vms []*domain.VMView) *dispatchState {
	st := newDispatchState()

	for _, vm := range vms {
		if vm.Dispatched {
			continue
		}
		if len(vm.Candidates) == 0 {
			st.reject(vm, domain.RejectNoCandidates)
			continue
		}
		if s.config.MaxDispatch > 0 && st.total >= s.config.MaxDispatch {
			st.reject(vm, domain.RejectDispatchLimit)
			continue
		}

		if reason := s.dispatchVM(ctx, st, vm); reason != "" {
			st.reject(vm, reason)
		}
	}

	return st
}

// dispatchVM tries the VM's candidates from best to worst. It returns the rejection reason
// when the VM stays pending.
func (s *Scheduler) dispatchVM(ctx context.Context, st *dispatchState, vm *domain.VMView) string {
	logger := s.logger.With(zap.Int("vm_id", vm.ID))
	limited := 0

	for _, c := range orderCandidates(vm.Candidates) {
		if s.config.MaxHost > 0 && st.perHost[c.HostID] >= s.config.MaxHost {
			limited++
			continue
		}

		h, err := s.hosts.Get(c.HostID)
		if err != nil {
			continue
		}
		// Earlier placements in this cycle may have used up the room the match saw.
		if !h.HasCapacity(vm.CPU, vm.Memory, vm.Disk) {
			continue
		}

		if err := s.store.DispatchVM(ctx, vm.ID, h.ID); err != nil {
			metrics.DispatchErrors.Inc()
			if errors.Is(err, domain.ErrDispatchRejected) {
				logger.Warn("Store refused to dispatch VM", zap.Int("host_id", h.ID), zap.Error(err))
			} else {
				logger.Error("Failed to dispatch VM", zap.Int("host_id", h.ID), zap.Error(err))
			}
			return domain.RejectStoreError
		}

		st.accept(vm, h, c.Priority)
		metrics.VMsDispatched.Inc()
		logger.Info("VM dispatched",
			zap.Int("host_id", h.ID),
			zap.String("host", h.Name),
			zap.Float64("priority", c.Priority),
		)
		return ""
	}

	// host_limit only when the per-host counter blocked every candidate.
	if limited == len(vm.Candidates) {
		return domain.RejectHostLimit
	}
	return domain.RejectCapacity
}

// orderCandidates returns the candidates by priority, highest first, ties broken by the
// lowest host id. A NaN priority ranks below every number.
func orderCandidates(candidates []domain.Candidate) []domain.Candidate {
	ordered := append([]domain.Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Priority, ordered[j].Priority
		if ni, nj := math.IsNaN(pi), math.IsNaN(pj); ni != nj {
			return nj
		} else if !ni && pi != pj {
			return pi > pj
		}
		return ordered[i].HostID < ordered[j].HostID
	})
	return ordered
}
