package policy

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/expr"
	"github.com/limiquantix/quantix-sched/internal/metrics"
)

// rankPolicy evaluates the VM's rank expression against every host.
type rankPolicy struct {
	weight      float64
	defaultRank string
	logger      *zap.Logger
}

func (p *rankPolicy) Name() string { return NameRank }

func (p *rankPolicy) Priorities(exprs *expr.Cache, vm *domain.VMView, hosts []*domain.HostView) []float64 {
	src := vm.Rank
	if src == "" {
		src = p.defaultRank
	}
	return evaluate(exprs, src, p.weight, vm, hosts, p.logger)
}

// exprPolicy evaluates one fixed expression for every VM.
type exprPolicy struct {
	name   string
	src    string
	weight float64
	logger *zap.Logger
}

func (p *exprPolicy) Name() string { return p.name }

func (p *exprPolicy) Priorities(exprs *expr.Cache, vm *domain.VMView, hosts []*domain.HostView) []float64 {
	return evaluate(exprs, p.src, p.weight, vm, hosts, p.logger)
}

// evaluate returns weight*src for every host. Failures and non-finite results contribute
// zero.
func evaluate(exprs *expr.Cache, src string, weight float64, vm *domain.VMView, hosts []*domain.HostView, logger *zap.Logger) []float64 {
	out := make([]float64, len(hosts))
	if src == "" {
		return out
	}

	e, err := exprs.Parse(src)
	if err != nil {
		metrics.ExpressionErrors.WithLabelValues(metrics.ExprRank).Inc()
		logger.Error("Failed to parse rank expression",
			zap.Int("vm_id", vm.ID),
			zap.String("rank", src),
			zap.Error(err),
		)
		return out
	}

	for i, h := range hosts {
		v, err := e.Num(expr.ForHost(h))
		if err == nil && !finite(weight*v) {
			err = fmt.Errorf("%w: %s: result %g is not finite", domain.ErrExpression, src, v)
		}
		if err != nil {
			metrics.ExpressionErrors.WithLabelValues(metrics.ExprRank).Inc()
			logger.Error("Failed to evaluate rank expression",
				zap.Int("vm_id", vm.ID),
				zap.Int("host_id", h.ID),
				zap.String("rank", src),
				zap.Error(err),
			)
			continue
		}
		out[i] = weight * v
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
