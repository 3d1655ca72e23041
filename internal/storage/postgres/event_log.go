// Package postgres provides the Postgres-backed task event log.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-progress/internal/eventlog"
)

const columnsPerEntry = 6

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxIface is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// EventLog stores entries in the task_events table.
type EventLog struct {
	pool pgxIface
}

// NewEventLog connects to Postgres using cfg.
func NewEventLog(ctx context.Context, cfg Config) (*EventLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventLog{pool: pool}, nil
}

// NewEventLogWithPool wraps an existing pool (primarily for testing).
func NewEventLogWithPool(pool pgxIface) (*EventLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EventLog{pool: pool}, nil
}

// Close releases the pool.
func (l *EventLog) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (l *EventLog) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Append inserts the batch with a single multi-row statement.
func (l *EventLog) Append(ctx context.Context, entries []eventlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := eventlog.ValidateAll(entries); err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO task_events (id, task_id, event_type, message, fields, created_at) VALUES ")
	args := make([]any, 0, len(entries)*columnsPerEntry)
	for i, e := range entries {
		fields, err := marshalFields(e.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields for entry %s: %w", e.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * columnsPerEntry
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, e.ID, e.TaskID, e.Type, e.Message, fields, e.CreatedAt)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	if _, err := l.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert task events: %w", err)
	}
	return nil
}

// List returns the newest limit entries for a task, oldest first.
func (l *EventLog) List(ctx context.Context, taskID string, limit int) ([]eventlog.Entry, error) {
	if limit <= 0 {
		limit = eventlog.DefaultListLimit
	}
	query := `
		SELECT id, task_id, event_type, message, fields, created_at FROM (
			SELECT id, task_id, event_type, message, fields, created_at
			FROM task_events
			WHERE task_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC;
	`
	rows, err := l.pool.Query(ctx, query, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Entry
	for rows.Next() {
		var (
			e   eventlog.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &e.Message, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Fields); err != nil {
				return nil, fmt.Errorf("decode fields for entry %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task events: %w", err)
	}
	return out, nil
}

// PurgeBefore deletes entries older than cutoff.
func (l *EventLog) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM task_events WHERE created_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge task events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalFields(fields map[string]any) ([]byte, error) {
	if len(fields) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}
