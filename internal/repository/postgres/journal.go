package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

var placementColumns = []string{"cycle_id", "vm_id", "host_id", "priority", "created_at"}

// JournalEntry is one recorded placement.
type JournalEntry struct {
	CycleID   string    `json:"cycle_id"`
	VMID      int       `json:"vm_id"`
	HostID    int       `json:"host_id"`
	Priority  float64   `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records every cycle and its placements. It is write-only from the scheduler's
// point of view: placements are never read back into scheduling.
type Journal struct {
	db     *DB
	logger *zap.Logger
}

// NewJournal creates a placement journal.
func NewJournal(db *DB, logger *zap.Logger) *Journal {
	return &Journal{
		db:     db,
		logger: logger.With(zap.String("repository", "journal")),
	}
}

// Report implements scheduler.Reporter. Idle cycles without placements or errors are not
// recorded.
func (j *Journal) Report(ctx context.Context, report *domain.CycleReport) error {
	if len(report.Dispatched) == 0 && report.Err == "" {
		return nil
	}

	reasons := report.Rejected
	if reasons == nil {
		reasons = map[string]int{}
	}
	rejected, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal rejections: %w", err)
	}

	tx, err := j.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO scheduler_cycles (
			id, started_at, duration_ms, hosts, pending_vms, matched,
			dispatched, rejected, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
	`
	if _, err := tx.Exec(ctx, query,
		report.ID,
		report.StartedAt,
		report.Duration.Milliseconds(),
		report.Hosts,
		report.PendingVMs,
		report.Matched,
		len(report.Dispatched),
		rejected,
		report.Err,
	); err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	if len(report.Dispatched) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"scheduler_placements"},
			placementColumns,
			pgx.CopyFromRows(placementRows(report)),
		); err != nil {
			return fmt.Errorf("failed to insert placements: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}

	j.logger.Debug("Cycle journaled",
		zap.String("cycle_id", report.ID),
		zap.Int("placements", len(report.Dispatched)),
	)
	return nil
}

// Recent returns the most recent placements, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT cycle_id::text, vm_id, host_id, priority, created_at
		FROM scheduler_placements
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := j.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query placements: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (JournalEntry, error) {
		var e JournalEntry
		err := row.Scan(&e.CycleID, &e.VMID, &e.HostID, &e.Priority, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan placements: %w", err)
	}
	return entries, nil
}

// placementRows converts the report's placements to COPY rows in placementColumns order.
func placementRows(report *domain.CycleReport) [][]any {
	createdAt := report.StartedAt.Add(report.Duration)
	rows := make([][]any, 0, len(report.Dispatched))
	for _, p := range report.Dispatched {
		rows = append(rows, []any{report.ID, p.VMID, p.HostID, p.Priority, createdAt})
	}
	return rows
}
