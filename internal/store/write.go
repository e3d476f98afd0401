package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// RecordTask writes a processed task and the events it carried in one
// transaction. Events already stored for the run are skipped; a task
// already recorded for the same StartedEventID is left untouched.
func (s *Store) RecordTask(ctx context.Context, rec TaskRecord) error {
	if rec.WorkflowID == "" || rec.RunID == "" {
		return fmt.Errorf("record task: workflow id and run id are required")
	}

	decisions, err := json.Marshal(nonNil(rec.Decisions))
	if err != nil {
		return fmt.Errorf("record task: marshal decisions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record task: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (workflow_id, run_id, workflow_name, workflow_version, first_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, run_id) DO NOTHING
	`, rec.WorkflowID, rec.RunID, rec.WorkflowName, rec.WorkflowVersion, rec.RecordedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("record task: insert run: %w", err)
	}

	if err := insertEvents(ctx, tx, rec); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_tasks (
			workflow_id, run_id, previous_started_event_id, started_event_id,
			decisions, decisions_hash, error, engine_version, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, run_id, started_event_id) DO NOTHING
	`,
		rec.WorkflowID, rec.RunID, rec.PreviousStartedEventID, rec.StartedEventID,
		string(decisions), rec.DecisionsHash, rec.Error, rec.EngineVersion,
		rec.RecordedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("record task: insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record task: commit: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, rec TaskRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (workflow_id, run_id, event_id, event_type, timestamp, attributes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, run_id, event_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record task: prepare events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range rec.Events {
		attrs, err := json.Marshal(ev.Attributes)
		if err != nil {
			return fmt.Errorf("record task: marshal %s: %w", ev, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.WorkflowID, rec.RunID, ev.ID, string(ev.Type),
			ev.Timestamp.UTC().Format(timeLayout), string(attrs),
		); err != nil {
			return fmt.Errorf("record task: insert %s: %w", ev, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
