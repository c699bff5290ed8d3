package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

func TestPlacementRows(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &domain.CycleReport{
		ID:        "cycle-1",
		StartedAt: started,
		Duration:  2 * time.Second,
		Dispatched: []domain.Placement{
			{VMID: 10, HostID: 1, Priority: 3.5},
			{VMID: 11, HostID: 2},
		},
	}

	rows := placementRows(report)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row, len(placementColumns))
	}
	assert.Equal(t, []any{"cycle-1", 10, 1, 3.5, started.Add(2 * time.Second)}, rows[0])
	assert.Equal(t, 11, rows[1][1])
}

// TestJournal_Integration runs against the database in QUANTIX_SCHED_TEST_DATABASE_URL,
// migrated with cmd/migrate.
func TestJournal_Integration(t *testing.T) {
	url := os.Getenv("QUANTIX_SCHED_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("QUANTIX_SCHED_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	journal := NewJournal(&DB{pool: pool, logger: zap.NewNop()}, zap.NewNop())

	require.NoError(t, journal.Report(ctx, &domain.CycleReport{ID: uuid.NewString(), StartedAt: time.Now()}),
		"idle cycles are skipped")

	report := &domain.CycleReport{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		Duration:   time.Second,
		Hosts:      2,
		PendingVMs: 1,
		Matched:    1,
		Dispatched: []domain.Placement{{VMID: 42, HostID: 7, Priority: 1.5}},
	}
	require.NoError(t, journal.Report(ctx, report))

	entries, err := journal.Recent(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, report.ID, entries[0].CycleID)
	assert.Equal(t, 42, entries[0].VMID)
	assert.Equal(t, 7, entries[0].HostID)
}
