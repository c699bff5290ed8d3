// Package policy implements the ranking policies that turn a VM's candidate hosts into
// placement priorities.
package policy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/expr"
)

// Policy names.
const (
	// NameRank ranks hosts with the VM's own rank expression.
	NameRank = "rank"
	// NamePacking prefers hosts already running more VMs.
	NamePacking = "packing"
	// NameStriping prefers hosts running fewer VMs.
	NameStriping = "striping"
	// NameLoadAware prefers hosts with more free CPU.
	NameLoadAware = "load_aware"
	// NameExpression ranks every VM with the expression given in params.expression.
	NameExpression = "expression"
)

// Config selects and parameterizes one policy.
type Config struct {
	Name   string         `mapstructure:"name"`
	Weight float64        `mapstructure:"weight"`
	Params map[string]any `mapstructure:"params"`
}

// Policy computes one priority contribution per host. It must be a pure function of its
// inputs: the same views always produce the same contributions.
type Policy interface {
	Name() string

	// Priorities returns len(hosts) contributions, in host order. Expressions are parsed
	// through exprs, which lives for one cycle.
	Priorities(exprs *expr.Cache, vm *domain.VMView, hosts []*domain.HostView) []float64
}

var fixedExpressions = map[string]string{
	NamePacking:   "RUNNING_VMS",
	NameStriping:  "- RUNNING_VMS",
	NameLoadAware: "FREECPU",
}

// New builds the policy described by cfg. defaultRank is the rank expression applied to
// VMs that carry none.
func New(cfg Config, defaultRank string, logger *zap.Logger) (Policy, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	weight := cfg.Weight
	if weight == 0 {
		weight = 1
	}
	logger = logger.With(zap.String("policy", cfg.Name))

	switch cfg.Name {
	case NameRank:
		return &rankPolicy{weight: weight, defaultRank: defaultRank, logger: logger}, nil
	case NameExpression:
		src, _ := cfg.Params["expression"].(string)
		return &exprPolicy{name: cfg.Name, src: src, weight: weight, logger: logger}, nil
	default:
		return &exprPolicy{name: cfg.Name, src: fixedExpressions[cfg.Name], weight: weight, logger: logger}, nil
	}
}

// NewAll builds the policies in configuration order.
func NewAll(cfgs []Config, defaultRank string, logger *zap.Logger) ([]Policy, error) {
	policies := make([]Policy, 0, len(cfgs))
	for i, cfg := range cfgs {
		p, err := New(cfg, defaultRank, logger)
		if err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Validate checks that cfg names a known policy with usable parameters.
func Validate(cfg Config) error {
	switch cfg.Name {
	case NameRank, NamePacking, NameStriping, NameLoadAware:
		return nil
	case NameExpression:
		src, ok := cfg.Params["expression"].(string)
		if !ok || src == "" {
			return fmt.Errorf("%w: policy %q requires params.expression", domain.ErrConfiguration, cfg.Name)
		}
		if _, err := expr.Parse(src); err != nil {
			return fmt.Errorf("%w: policy %q: %w", domain.ErrConfiguration, cfg.Name, err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown policy %q", domain.ErrConfiguration, cfg.Name)
}
