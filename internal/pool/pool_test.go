package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// mockSource is a hand-written store double returning canned snapshots.
type mockSource struct {
	hosts []domain.HostView
	vms   []domain.VMView
	users []domain.UserView
	rules []domain.ACLRule
	err   error

	lastLimit int
}

func (m *mockSource) ListHosts(context.Context) ([]domain.HostView, error) {
	return m.hosts, m.err
}

func (m *mockSource) ListPendingVMs(_ context.Context, limit int) ([]domain.VMView, error) {
	m.lastLimit = limit
	return m.vms, m.err
}

func (m *mockSource) ListUsers(context.Context) ([]domain.UserView, error) {
	return m.users, m.err
}

func (m *mockSource) ListACLRules(context.Context) ([]domain.ACLRule, error) {
	return m.rules, m.err
}

func TestHostPool_SetUp(t *testing.T) {
	src := &mockSource{hosts: []domain.HostView{
		{ID: 7, Name: "c", State: domain.HostStateMonitored},
		{ID: 2, Name: "a", State: domain.HostStateMonitored, Threshold: 2},
		{ID: 5, Name: "off", State: domain.HostStateDisabled},
		{ID: 6, Name: "broken", State: domain.HostStateError},
		{ID: 3, Name: "b"},
	}}
	p := NewHostPool(src, 1.5, zap.NewNop())

	require.NoError(t, p.SetUp(context.Background()))
	require.Equal(t, 3, p.Len())

	var names []string
	for _, h := range p.All() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names, "arrival order is kept")

	h, err := p.Get(7)
	require.NoError(t, err)
	assert.Equal(t, 1.5, h.Threshold, "default threshold applied")

	h, err = p.Get(2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, h.Threshold, "reported threshold kept")

	_, err = p.Get(5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHostPool_FailedFetchLeavesPoolEmpty(t *testing.T) {
	src := &mockSource{hosts: []domain.HostView{{ID: 1}, {ID: 2}}}
	p := NewHostPool(src, 1, zap.NewNop())
	require.NoError(t, p.SetUp(context.Background()))
	require.Equal(t, 2, p.Len())

	src.err = domain.ErrTransport
	err := p.SetUp(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 0, p.Len())
	_, err = p.Get(1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHostPool_SetUpReplacesSnapshot(t *testing.T) {
	src := &mockSource{hosts: []domain.HostView{{ID: 1, UsedCPU: 1}}}
	p := NewHostPool(src, 1, zap.NewNop())
	require.NoError(t, p.SetUp(context.Background()))

	h, _ := p.Get(1)
	h.Reserve(2, 0, 0)

	require.NoError(t, p.SetUp(context.Background()))
	h, err := p.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.UsedCPU, "provisional reservations do not survive a refresh")
	assert.Equal(t, 1.0, src.hosts[0].UsedCPU, "the fetched slice is not aliased")
}

func TestVMPool_SetUp(t *testing.T) {
	src := &mockSource{vms: []domain.VMView{
		{ID: 4, State: domain.VMStatePending, Candidates: []domain.Candidate{{HostID: 1}}, Dispatched: true},
		{ID: 1, State: domain.VMStateActive},
		{ID: 9, State: domain.VMStatePending},
		{ID: 3, State: domain.VMStatePending},
	}}
	p := NewVMPool(src, 2, zap.NewNop())

	require.NoError(t, p.SetUp(context.Background()))
	assert.Equal(t, 2, src.lastLimit)
	require.Equal(t, 2, p.Len())
	assert.Equal(t, 4, p.All()[0].ID)
	assert.Equal(t, 9, p.All()[1].ID)
	assert.Empty(t, p.All()[0].Candidates)
	assert.False(t, p.All()[0].Dispatched)

	_, err := p.Get(1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVMPool_Unlimited(t *testing.T) {
	src := &mockSource{vms: []domain.VMView{
		{ID: 1, State: domain.VMStatePending},
		{ID: 2, State: domain.VMStatePending},
		{ID: 3, State: domain.VMStatePending},
	}}
	p := NewVMPool(src, 0, zap.NewNop())
	require.NoError(t, p.SetUp(context.Background()))
	assert.Equal(t, 3, p.Len())
}

func TestUserAndACLPools(t *testing.T) {
	rule, err := domain.ParseACLRule(0, "@1", "HOST/*", "DEPLOY")
	require.NoError(t, err)

	src := &mockSource{
		users: []domain.UserView{{ID: 3, Name: "alice", GID: 1}},
		rules: []domain.ACLRule{rule},
	}

	users := NewUserPool(src)
	require.NoError(t, users.SetUp(context.Background()))
	u, err := users.Get(3)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	rules := NewACLPool(src)
	require.NoError(t, rules.SetUp(context.Background()))
	assert.Equal(t, []domain.ACLRule{rule}, rules.Rules())

	src.err = errors.New("boom")
	assert.Error(t, users.SetUp(context.Background()))
	assert.Equal(t, 0, users.Len())
	assert.Error(t, rules.SetUp(context.Background()))
	assert.Empty(t, rules.Rules())
}

func TestPool_DuplicateIDKeepsPosition(t *testing.T) {
	p := newPool("host", func(h *domain.HostView) int { return h.ID })
	p.add(domain.HostView{ID: 1, Name: "first"})
	p.add(domain.HostView{ID: 2, Name: "second"})
	p.add(domain.HostView{ID: 1, Name: "updated"})

	require.Equal(t, 2, p.Len())
	assert.Equal(t, "updated", p.All()[0].Name)
}
