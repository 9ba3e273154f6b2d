package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diaflow/diaflow/domain"
)

// Archive persists terminal executions to Postgres for later inspection.
// The hot path stays in Redis or memory; archival happens once, after the
// terminal event.
type Archive struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewArchive creates an archive over an existing connection pool
func NewArchive(pool *pgxpool.Pool, logger Logger) *Archive {
	return &Archive{pool: pool, logger: logger}
}

// Schema is the DDL the archive expects. Applied by the daemon at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS execution_archive (
	execution_id TEXT PRIMARY KEY,
	diagram_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ,
	state        JSONB NOT NULL,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS execution_events (
	execution_id TEXT NOT NULL,
	sequence     BIGINT NOT NULL,
	event_type   TEXT NOT NULL,
	node_id      TEXT,
	occurred_at  TIMESTAMPTZ NOT NULL,
	data         JSONB,
	PRIMARY KEY (execution_id, sequence)
);
`

// Migrate applies the archive schema
func (a *Archive) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply archive schema: %w", err)
	}
	return nil
}

// Store archives a terminal execution with its full event log
func (a *Archive) Store(ctx context.Context, state *domain.ExecutionState, events []*domain.Event) error {
	if !state.Status.IsTerminal() {
		return fmt.Errorf("archive: execution %s is %s, only terminal executions are archived", state.ID, state.Status)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("archive: encode state: %w", err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO execution_archive (execution_id, diagram_id, status, started_at, ended_at, state, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id) DO UPDATE
		SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at, state = EXCLUDED.state, error = EXCLUDED.error
	`
	_, err = tx.Exec(ctx, query,
		string(state.ID),
		state.DiagramID,
		string(state.Status),
		state.StartedAt,
		state.EndedAt,
		stateJSON,
		nullable(state.Error),
	)
	if err != nil {
		return fmt.Errorf("archive: insert execution: %w", err)
	}

	for _, ev := range events {
		var dataJSON []byte
		if ev.Data != nil {
			dataJSON, err = json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("archive: encode event %d: %w", ev.Sequence, err)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_events (execution_id, sequence, event_type, node_id, occurred_at, data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (execution_id, sequence) DO NOTHING
		`,
			string(ev.ExecutionID),
			ev.Sequence,
			string(ev.Type),
			nullable(string(ev.NodeID)),
			ev.Timestamp,
			dataJSON,
		)
		if err != nil {
			return fmt.Errorf("archive: insert event %d: %w", ev.Sequence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}

	a.logger.Info("execution archived",
		"execution_id", state.ID,
		"status", string(state.Status),
		"events", len(events))
	return nil
}

// Load returns an archived execution's state
func (a *Archive) Load(ctx context.Context, executionID domain.ExecutionID) (*domain.ExecutionState, error) {
	var stateJSON []byte
	err := a.pool.QueryRow(ctx,
		`SELECT state FROM execution_archive WHERE execution_id = $1`,
		string(executionID)).Scan(&stateJSON)
	if err != nil {
		return nil, fmt.Errorf("archive: load execution %s: %w", executionID, err)
	}
	var state domain.ExecutionState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("archive: decode state: %w", err)
	}
	return &state, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
