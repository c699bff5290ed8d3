package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/acl"
	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/expr"
	"github.com/limiquantix/quantix-sched/internal/metrics"
	"github.com/limiquantix/quantix-sched/internal/policy"
	"github.com/limiquantix/quantix-sched/internal/pool"
)

// reportTimeout bounds each reporter call.
const reportTimeout = 5 * time.Second

// Scheduler places pending VMs on hosts, one cycle at a time.
type Scheduler struct {
	store     Store
	config    Config
	policies  []policy.Policy
	leader    LeaderChecker
	reporters []Reporter
	logger    *zap.Logger

	hosts *pool.HostPool
	vms   *pool.VMPool
	users *pool.UserPool
	acls  *pool.ACLPool

	// Rebuilt at the start of every cycle.
	exprs *expr.Cache
	authz acl.Authorizer

	cycleMu sync.Mutex

	mu      sync.RWMutex
	running bool
	last    *domain.CycleReport
}

// New creates a new Scheduler. leader may be nil, in which case the instance always
// schedules.
func New(cfg Config, store Store, leader LeaderChecker, logger *zap.Logger) (*Scheduler, error) {
	base := logger
	logger = logger.With(zap.String("component", "scheduler"))

	policies, err := policy.NewAll(cfg.Policies, cfg.DefaultRank, logger)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		store:    store,
		config:   cfg,
		policies: policies,
		leader:   leader,
		logger:   logger,
		hosts:    pool.NewHostPool(store, cfg.Threshold, base),
		vms:      pool.NewVMPool(store, cfg.MaxVMs, base),
		users:    pool.NewUserPool(store),
		acls:     pool.NewACLPool(store),
		exprs:    expr.NewCache(),
		authz:    acl.AllowAll{},
	}, nil
}

// AddReporter registers a reporter for cycle reports. It must be called before Run.
func (s *Scheduler) AddReporter(r Reporter) {
	s.reporters = append(s.reporters, r)
}

// Run executes a cycle immediately and then once per interval until ctx is cancelled.
// Cycles never overlap: a tick that fires during a cycle is delivered after it, and ticks
// missed meanwhile collapse into one. Cancellation lets the in-flight cycle finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("Starting scheduler",
		zap.Duration("interval", s.config.Interval),
		zap.Int("max_vms", s.config.MaxVMs),
		zap.Int("max_dispatch", s.config.MaxDispatch),
		zap.Int("max_host", s.config.MaxHost),
		zap.String("authorization", s.config.Authorization),
		zap.Strings("policies", s.policyNames()),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.tick(ctx)
		}
	}
}

// IsRunning reports whether Run is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// IsLeader reports whether this instance currently runs cycles.
func (s *Scheduler) IsLeader() bool {
	return s.leader == nil || s.leader.IsLeader()
}

// LastReport returns the report of the last finished cycle, or nil.
func (s *Scheduler) LastReport() *domain.CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.IsLeader() {
		metrics.SetLeader(false)
		metrics.CyclesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		s.logger.Debug("Not leader, skipping scheduling cycle")
		return
	}
	metrics.SetLeader(true)

	// Shutdown must not interrupt a cycle halfway; every store call carries its own timeout.
	_, _ = s.RunCycle(context.WithoutCancel(ctx))
}

// RunCycle runs one complete cycle: refresh the snapshots, match, rank and dispatch. A
// store failure abandons the cycle and is returned; the next cycle starts from scratch.
func (s *Scheduler) RunCycle(ctx context.Context) (*domain.CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := &domain.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := s.logger.With(zap.String("cycle_id", report.ID))

	err := s.cycle(ctx, report, logger)
	report.Duration = time.Since(report.StartedAt)

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		report.Err = err.Error()
		logger.Error("Scheduling cycle failed", zap.Duration("duration", report.Duration), zap.Error(err))
	} else {
		logger.Info("Scheduling cycle complete",
			zap.Duration("duration", report.Duration),
			zap.Int("hosts", report.Hosts),
			zap.Int("pending_vms", report.PendingVMs),
			zap.Int("matched", report.Matched),
			zap.Int("dispatched", len(report.Dispatched)),
			zap.Any("rejected", report.Rejected),
		)
	}
	metrics.ObserveCycle(result, report.StartedAt, report.Duration)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.publish(ctx, report, logger)
	return report, err
}

func (s *Scheduler) cycle(ctx context.Context, report *domain.CycleReport, logger *zap.Logger) error {
	s.exprs = expr.NewCache()
	s.authz = acl.AllowAll{}

	// VMs come first so an idle cycle costs one call.
	if err := s.vms.SetUp(ctx); err != nil {
		return err
	}
	report.PendingVMs = s.vms.Len()
	metrics.PendingVMs.Set(float64(report.PendingVMs))
	if report.PendingVMs == 0 {
		logger.Debug("No pending VMs")
		return nil
	}

	if err := s.setUp(ctx); err != nil {
		return err
	}
	report.Hosts = s.hosts.Len()
	metrics.Hosts.Set(float64(report.Hosts))

	if s.config.Authorization == AuthorizationACL {
		s.authz = acl.NewEngine(s.acls.Rules())
	}

	vms := s.vms.All()
	report.Matched = s.Match(vms, s.hosts.All())
	s.Rank(vms)
	s.logCandidates(vms, logger)

	st := s.dispatch(ctx, vms)
	report.Dispatched = st.placements
	for _, vm := range vms {
		if reason, ok := st.rejected[vm.ID]; ok {
			report.Reject(reason)
		}
	}
	return nil
}

// setUp refreshes the host, user and ACL snapshots.
func (s *Scheduler) setUp(ctx context.Context) error {
	if err := s.hosts.SetUp(ctx); err != nil {
		return err
	}
	if err := s.users.SetUp(ctx); err != nil {
		return err
	}
	if s.config.Authorization == AuthorizationACL {
		if err := s.acls.SetUp(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) publish(ctx context.Context, report *domain.CycleReport, logger *zap.Logger) {
	for _, r := range s.reporters {
		rctx, cancel := context.WithTimeout(ctx, reportTimeout)
		if err := r.Report(rctx, report); err != nil {
			logger.Warn("Failed to publish cycle report", zap.String("reporter", fmt.Sprintf("%T", r)), zap.Error(err))
		}
		cancel()
	}
}

// logCandidates logs each VM's candidate hosts and priorities, best first.
func (s *Scheduler) logCandidates(vms []*domain.VMView, logger *zap.Logger) {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	for _, vm := range vms {
		ordered := orderCandidates(vm.Candidates)
		parts := make([]string, len(ordered))
		for i, c := range ordered {
			parts[i] = fmt.Sprintf("%d:%g", c.HostID, c.Priority)
		}
		logger.Debug("VM candidates",
			zap.Int("vm_id", vm.ID),
			zap.String("name", vm.Name),
			zap.String("hosts", strings.Join(parts, " ")),
		)
	}
}

func (s *Scheduler) policyNames() []string {
	names := make([]string, len(s.policies))
	for i, p := range s.policies {
		names[i] = p.Name()
	}
	return names
}
