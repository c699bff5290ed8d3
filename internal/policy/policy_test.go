package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/expr"
)

func testHosts() []*domain.HostView {
	return []*domain.HostView{
		{ID: 1, TotalCPU: 800, UsedCPU: 600, Threshold: 1, RunningVMs: 4},
		{ID: 2, TotalCPU: 800, UsedCPU: 100, Threshold: 1, RunningVMs: 1},
		{ID: 3, TotalCPU: 400, UsedCPU: 0, Threshold: 1, RunningVMs: 0},
	}
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		vm   *domain.VMView
		want []float64
	}{
		{
			name: "packing",
			cfg:  Config{Name: NamePacking},
			vm:   &domain.VMView{ID: 1},
			want: []float64{4, 1, 0},
		},
		{
			name: "striping",
			cfg:  Config{Name: NameStriping, Weight: 2},
			vm:   &domain.VMView{ID: 1},
			want: []float64{-8, -2, 0},
		},
		{
			name: "load aware",
			cfg:  Config{Name: NameLoadAware},
			vm:   &domain.VMView{ID: 1},
			want: []float64{200, 700, 400},
		},
		{
			name: "rank with vm expression",
			cfg:  Config{Name: NameRank, Weight: 0.5},
			vm:   &domain.VMView{ID: 1, Rank: "FREECPU - RUNNING_VMS * 100"},
			want: []float64{-100, 300, 200},
		},
		{
			name: "rank without expression",
			cfg:  Config{Name: NameRank},
			vm:   &domain.VMView{ID: 1},
			want: []float64{0, 0, 0},
		},
		{
			name: "rank with broken expression",
			cfg:  Config{Name: NameRank},
			vm:   &domain.VMView{ID: 1, Rank: "FREECPU +"},
			want: []float64{0, 0, 0},
		},
		{
			name: "custom expression",
			cfg:  Config{Name: NameExpression, Params: map[string]any{"expression": "HID * 10"}},
			vm:   &domain.VMView{ID: 1},
			want: []float64{10, 20, 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, "", zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Name, p.Name())

			got := p.Priorities(expr.NewCache(), tt.vm, testHosts())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRankPolicy_DefaultRank(t *testing.T) {
	p, err := New(Config{Name: NameRank}, "RUNNING_VMS", zap.NewNop())
	require.NoError(t, err)

	got := p.Priorities(expr.NewCache(), &domain.VMView{ID: 1}, testHosts())
	assert.Equal(t, []float64{4, 1, 0}, got)

	got = p.Priorities(expr.NewCache(), &domain.VMView{ID: 1, Rank: "HID"}, testHosts())
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestRankPolicy_PartialFailure(t *testing.T) {
	hosts := testHosts()
	hosts[1].Attributes = map[string]string{"DIVISOR": "0"}
	hosts[0].Attributes = map[string]string{"DIVISOR": "2"}
	hosts[2].Attributes = map[string]string{"DIVISOR": "4"}

	p, err := New(Config{Name: NameRank}, "", zap.NewNop())
	require.NoError(t, err)

	got := p.Priorities(expr.NewCache(), &domain.VMView{ID: 1, Rank: "100 / DIVISOR"}, hosts)
	assert.Equal(t, []float64{50, 0, 25}, got)
}

func TestRankPolicy_NonFiniteResults(t *testing.T) {
	tests := []struct {
		name   string
		rank   string
		scores [3]string
		want   []float64
	}{
		{"NaN attribute", "SCORE", [3]string{"5", "NaN", "9"}, []float64{5, 0, 9}},
		{"Inf attribute", "SCORE", [3]string{"-Inf", "3", "+Inf"}, []float64{0, 3, 0}},
		{"overflow", "SCORE * 10", [3]string{"1e308", "2", "-1e308"}, []float64{0, 20, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hosts := testHosts()
			for i, h := range hosts {
				h.Attributes = map[string]string{"SCORE": tt.scores[i]}
			}

			p, err := New(Config{Name: NameRank}, "", zap.NewNop())
			require.NoError(t, err)

			got := p.Priorities(expr.NewCache(), &domain.VMView{ID: 1, Rank: tt.rank}, hosts)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Config{Name: NamePacking}))

	for _, cfg := range []Config{
		{Name: "fastest"},
		{Name: NameExpression},
		{Name: NameExpression, Params: map[string]any{"expression": "FREECPU >"}},
	} {
		err := Validate(cfg)
		require.Error(t, err, cfg.Name)
		assert.True(t, errors.Is(err, domain.ErrConfiguration))
	}

	_, err := NewAll([]Config{{Name: NameRank}, {Name: "nope"}}, "", zap.NewNop())
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
