package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/repository/postgres"
	"github.com/limiquantix/quantix-sched/internal/repository/redis"
	"github.com/limiquantix/quantix-sched/internal/scheduler"
	"github.com/limiquantix/quantix-sched/internal/server/middleware"
)

type fakeScheduler struct {
	leader  bool
	running bool
	last    *domain.CycleReport
}

func (f *fakeScheduler) IsLeader() bool                  { return f.leader }
func (f *fakeScheduler) IsRunning() bool                 { return f.running }
func (f *fakeScheduler) LastReport() *domain.CycleReport { return f.last }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeJournal struct {
	entries []postgres.JournalEntry
	limit   int
}

func (j *fakeJournal) Recent(_ context.Context, limit int) ([]postgres.JournalEntry, error) {
	j.limit = limit
	return j.entries, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: scheduler.DefaultConfig(),
		Store:     config.StoreConfig{Endpoint: "http://localhost:2633", Protocol: config.ProtocolConnect},
		Server:    config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, sched Scheduler, opts ...ServerOption) (*httptest.Server, *CyclesHandler) {
	t.Helper()
	// Websocket handlers log after the test returns, which zaptest does not allow.
	logger := zap.NewNop()
	cycles := NewCyclesHandler(10, logger)
	s := New(cfg, sched, cycles, logger, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cycles.Close()
		ts.Close()
	})
	return ts, cycles
}

func newTestCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	db, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(db.Close)

	cache := redis.NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: db.Addr()}), time.Minute, zap.NewNop())
	t.Cleanup(func() { _ = cache.Close() })
	return cache, db
}

func getJSON(t *testing.T, url, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Probes(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), &fakeScheduler{leader: true})

	for _, path := range []string{"/health", "/healthz", "/live", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+path, "", nil))
		})
	}
}

func TestServer_Ready(t *testing.T) {
	cache, db := newTestCache(t)
	ts, _ := newTestServer(t, testConfig(), &fakeScheduler{},
		WithStore(fakePinger{}),
		WithRedis(cache),
	)

	var body struct {
		Ready      bool              `json:"ready"`
		Components map[string]string `json:"components"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/ready", "", &body))
	assert.True(t, body.Ready)
	assert.Equal(t, map[string]string{"store": "healthy", "redis": "healthy"}, body.Components)

	db.Close()
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/ready", "", &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "unhealthy", body.Components["redis"])
}

func TestServer_ReadyStoreDown(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), &fakeScheduler{}, WithStore(fakePinger{err: domain.ErrTransport}))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/ready", "", nil))
}

func TestServer_Status(t *testing.T) {
	report := &domain.CycleReport{ID: "cycle-1", Hosts: 2, Dispatched: []domain.Placement{{VMID: 1, HostID: 2}}}

	t.Run("leader reports its own cycle", func(t *testing.T) {
		ts, _ := newTestServer(t, testConfig(), &fakeScheduler{leader: true, running: true, last: report})

		var body statusResponse
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", "", &body))
		assert.True(t, body.Leader)
		assert.True(t, body.Running)
		assert.Equal(t, "local", body.Source)
		require.NotNil(t, body.LastCycle)
		assert.Equal(t, "cycle-1", body.LastCycle.ID)
	})

	t.Run("follower falls back to the cached cycle", func(t *testing.T) {
		cache, _ := newTestCache(t)
		require.NoError(t, cache.Report(context.Background(), report))
		ts, _ := newTestServer(t, testConfig(), &fakeScheduler{running: true}, WithRedis(cache))

		var body statusResponse
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", "", &body))
		assert.False(t, body.Leader)
		assert.Equal(t, "redis", body.Source)
		require.NotNil(t, body.LastCycle)
		assert.Equal(t, report.Dispatched, body.LastCycle.Dispatched)
	})

	t.Run("nothing yet", func(t *testing.T) {
		ts, _ := newTestServer(t, testConfig(), &fakeScheduler{})

		var body statusResponse
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", "", &body))
		assert.Nil(t, body.LastCycle)
		assert.Empty(t, body.Source)
	})
}

func TestServer_Placements(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		ts, _ := newTestServer(t, testConfig(), &fakeScheduler{})
		assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/placements", "", nil))
	})

	journal := &fakeJournal{entries: []postgres.JournalEntry{{CycleID: "c1", VMID: 4, HostID: 2}}}
	ts, _ := newTestServer(t, testConfig(), &fakeScheduler{}, WithJournal(journal))

	var body struct {
		Placements []postgres.JournalEntry `json:"placements"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/placements?limit=5", "", &body))
	assert.Equal(t, 5, journal.limit)
	require.Len(t, body.Placements, 1)
	assert.Equal(t, 4, body.Placements[0].VMID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/placements?limit=x", "", nil))
}

func TestServer_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: "test-secret-key-at-least-32-bytes-long", Issuer: "quantix-sched"}
	ts, _ := newTestServer(t, cfg, &fakeScheduler{leader: true})

	token, _, err := middleware.NewJWTManager(cfg.Auth).Generate("ops")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", "", nil), "probes stay public")
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, ts.URL+"/api/v1/status", "", nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, ts.URL+"/api/v1/info", "not-a-token", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", token, nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/info", token, nil))
}

func TestServer_CycleStream(t *testing.T) {
	ts, cycles := newTestServer(t, testConfig(), &fakeScheduler{leader: true})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/cycles/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return cycles.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	report := &domain.CycleReport{ID: "cycle-7", Matched: 3}
	require.NoError(t, cycles.Report(context.Background(), report))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got domain.CycleReport
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "cycle-7", got.ID)
	assert.Equal(t, 3, got.Matched)

	var body struct {
		Cycles []*domain.CycleReport `json:"cycles"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/cycles", "", &body))
	require.Len(t, body.Cycles, 1)
	assert.Equal(t, "cycle-7", body.Cycles[0].ID)
}

func TestCyclesHandler_ReportHonoursContext(t *testing.T) {
	ts, cycles := newTestServer(t, testConfig(), &fakeScheduler{leader: true})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/cycles/watch"
	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()
		conns[i] = conn
	}
	require.Eventually(t, func() bool { return cycles.Clients() == len(conns) }, 2*time.Second, 10*time.Millisecond)

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, cycles.Report(expired, &domain.CycleReport{ID: "cycle-late"}))
	assert.Equal(t, len(conns), cycles.Clients(), "a skipped broadcast keeps clients")
	assert.Equal(t, "cycle-late", cycles.Recent(1)[0].ID, "history is recorded regardless")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cycles.Report(ctx, &domain.CycleReport{ID: "cycle-on-time"}))

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var got domain.CycleReport
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "cycle-on-time", got.ID)
	}
}

func TestCyclesHandler_History(t *testing.T) {
	h := NewCyclesHandler(3, zap.NewNop())
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.Report(context.Background(), &domain.CycleReport{ID: id}))
	}

	ids := func(reports []*domain.CycleReport) []string {
		out := make([]string, len(reports))
		for i, r := range reports {
			out[i] = r.ID
		}
		return out
	}
	assert.Equal(t, []string{"d", "c", "b"}, ids(h.Recent(0)))
	assert.Equal(t, []string{"d"}, ids(h.Recent(1)))
}

func TestServer_Recovery(t *testing.T) {
	s := New(testConfig(), &fakeScheduler{}, NewCyclesHandler(1, zap.NewNop()), zap.NewNop())
	handler := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
