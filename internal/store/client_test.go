package store_test

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/store"
	"github.com/limiquantix/quantix-sched/internal/store/storetest"
)

func seed(s *storetest.Store) {
	s.AddHost(domain.HostView{
		ID: 0, Name: "node-a", ClusterID: 100, State: domain.HostStateMonitored,
		TotalCPU: 8, TotalMemory: 16384, TotalDisk: 100000, UsedCPU: 2, UsedMemory: 4096,
		Threshold: 1.5, RunningVMs: 2,
		Attributes: map[string]string{"arch": "x86_64", "HYPERVISOR": "kvm"},
	})
	s.AddHost(domain.HostView{
		ID: 1, Name: "node-b", ClusterID: 100, State: domain.HostStateMonitored,
		TotalCPU: 4, TotalMemory: 8192,
	})
	s.AddVM(domain.VMView{ID: 10, UID: 3, GID: 1, Name: "web", CPU: 1, Memory: 1024, Requirements: `ARCH = "x86_64"`, Rank: "FREECPU"})
	s.AddVM(domain.VMView{ID: 11, UID: 3, GID: 1, Name: "db", CPU: 2, Memory: 2048})
	s.AddVM(domain.VMView{ID: 12, UID: 3, GID: 1, Name: "old", State: domain.VMStateActive})
	s.AddUser(domain.UserView{ID: 3, Name: "alice", GID: 1, Groups: []int{1, 5}})
	s.AddACLRule(0, "@1", "HOST/%100", "USE+DEPLOY")
	s.AddACLRule(1, "bogus", "HOST/*", "DEPLOY")
}

func dial(t *testing.T, s *storetest.Store, protocol string) *store.Client {
	t.Helper()

	endpoint := s.ServeConnect(t)
	if protocol == config.ProtocolGRPC {
		endpoint = s.ServeGRPC(t)
	}

	client, err := store.Dial(context.Background(), config.StoreConfig{
		Endpoint:    endpoint,
		Protocol:    protocol,
		Credentials: s.Credentials(),
		CallTimeout: 2 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_Protocols(t *testing.T) {
	for _, protocol := range []string{config.ProtocolConnect, config.ProtocolGRPCWeb, config.ProtocolGRPC} {
		t.Run(protocol, func(t *testing.T) {
			s := storetest.New()
			seed(s)
			client := dial(t, s, protocol)
			ctx := context.Background()

			hosts, err := client.ListHosts(ctx)
			require.NoError(t, err)
			require.Len(t, hosts, 2)
			assert.Equal(t, "node-a", hosts[0].Name)
			assert.Equal(t, 100, hosts[0].ClusterID)
			assert.Equal(t, domain.HostStateMonitored, hosts[0].State)
			assert.Equal(t, 8.0, hosts[0].TotalCPU)
			assert.Equal(t, 1.5, hosts[0].Threshold)
			assert.Equal(t, 2, hosts[0].RunningVMs)
			assert.Equal(t, "x86_64", hosts[0].Attributes["ARCH"])
			assert.Equal(t, "kvm", hosts[0].Attributes["HYPERVISOR"])

			vms, err := client.ListPendingVMs(ctx, 0)
			require.NoError(t, err)
			require.Len(t, vms, 2)
			assert.Equal(t, 10, vms[0].ID)
			assert.Equal(t, `ARCH = "x86_64"`, vms[0].Requirements)
			assert.Equal(t, "FREECPU", vms[0].Rank)
			assert.Equal(t, 11, vms[1].ID)
			assert.True(t, vms[1].IsPending())

			users, err := client.ListUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, []int{1, 5}, users[0].Groups)

			rules, err := client.ListACLRules(ctx)
			require.NoError(t, err)
			require.Len(t, rules, 1, "malformed rules are skipped")
			assert.Equal(t, "@1 HOST/%100 USE+DEPLOY", rules[0].String())

			require.NoError(t, client.DispatchVM(ctx, 10, 1))
			assert.Equal(t, []domain.Placement{{VMID: 10, HostID: 1}}, s.Placements())
		})
	}
}

func TestClient_PendingLimit(t *testing.T) {
	s := storetest.New()
	seed(s)
	client := dial(t, s, config.ProtocolConnect)

	vms, err := client.ListPendingVMs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, 10, vms[0].ID)
}

func TestDial_RejectedCredentials(t *testing.T) {
	s := storetest.New()
	endpoint := s.ServeConnect(t)

	_, err := store.Dial(context.Background(), config.StoreConfig{
		Endpoint:    endpoint,
		Credentials: "oneadmin:wrong",
		CallTimeout: time.Second,
	}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestDial_UnknownProtocol(t *testing.T) {
	_, err := store.Dial(context.Background(), config.StoreConfig{
		Endpoint:    "http://localhost:2633",
		Protocol:    "xmlrpc",
		Credentials: "oneadmin:plain:x",
	}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("store unavailable", func(t *testing.T) {
		s := storetest.New()
		client := dial(t, s, config.ProtocolConnect)
		s.Fail(store.ProcedureListHosts, connect.CodeUnavailable)

		_, err := client.ListHosts(ctx)
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.NotErrorIs(t, err, domain.ErrAuth)

		s.Recover(store.ProcedureListHosts)
		_, err = client.ListHosts(ctx)
		assert.NoError(t, err)
	})

	t.Run("dispatch rejected", func(t *testing.T) {
		s := storetest.New()
		seed(s)
		s.RejectDispatch(11)
		client := dial(t, s, config.ProtocolConnect)

		err := client.DispatchVM(ctx, 11, 0)
		assert.ErrorIs(t, err, domain.ErrDispatchRejected)
		assert.Empty(t, s.Placements())
	})

	t.Run("call timeout", func(t *testing.T) {
		s := storetest.New()
		endpoint := s.ServeConnect(t)
		client, err := store.Dial(ctx, config.StoreConfig{
			Endpoint:    endpoint,
			Credentials: s.Credentials(),
			CallTimeout: 50 * time.Millisecond,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer client.Close()

		s.SetLatency(time.Second)
		_, err = client.ListUsers(ctx)
		assert.ErrorIs(t, err, domain.ErrTransport)
	})

	t.Run("session revoked mid-flight", func(t *testing.T) {
		s := storetest.New()
		seed(s)
		client := dial(t, s, config.ProtocolGRPC)
		s.RevokeSessions()

		_, err := client.ListHosts(ctx)
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.ErrorIs(t, err, domain.ErrAuth)

		hosts, err := client.ListHosts(ctx)
		require.NoError(t, err, "the next call authenticates again")
		assert.Len(t, hosts, 2)
		assert.Equal(t, 2, s.Calls(store.ProcedureAuthenticate))
	})
}

func TestClient_SessionRenewal(t *testing.T) {
	s := storetest.New()
	// Shorter than the renewal skew, so every call needs a fresh token.
	s.SetTokenTTL(time.Second)
	client := dial(t, s, config.ProtocolConnect)
	ctx := context.Background()

	_, err := client.ListUsers(ctx)
	require.NoError(t, err)
	_, err = client.ListUsers(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Calls(store.ProcedureAuthenticate))
	require.NoError(t, client.Ping(ctx))
}
