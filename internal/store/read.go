package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/guflow/internal/history"
)

// ListRuns returns every recorded run ordered by workflow id then run id.
func (s *Store) ListRuns(ctx context.Context) ([]RunRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.workflow_id, r.run_id, r.workflow_name, r.workflow_version, COUNT(t.id)
		FROM runs r
		LEFT JOIN decision_tasks t ON t.workflow_id = r.workflow_id AND t.run_id = r.run_id
		GROUP BY r.workflow_id, r.run_id
		ORDER BY r.workflow_id ASC, r.run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRef
	for rows.Next() {
		var r RunRef
		if err := rows.Scan(&r.WorkflowID, &r.RunID, &r.WorkflowName, &r.WorkflowVersion, &r.Tasks); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadTasks returns the recorded tasks of a run ordered by StartedEventID.
// Each task's Events holds the stored history up to its StartedEventID,
// newest-first.
func (s *Store) ReadTasks(ctx context.Context, workflowID, runID string) ([]TaskRecord, error) {
	var name, version string
	err := s.db.QueryRowContext(ctx, `
		SELECT workflow_name, workflow_version FROM runs WHERE workflow_id = ? AND run_id = ?
	`, workflowID, runID).Scan(&name, &version)
	if err != nil {
		return nil, fmt.Errorf("read tasks %s/%s: %w", workflowID, runID, err)
	}

	events, err := s.readEvents(ctx, workflowID, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT previous_started_event_id, started_event_id, decisions, decisions_hash,
		       error, engine_version, recorded_at
		FROM decision_tasks
		WHERE workflow_id = ? AND run_id = ?
		ORDER BY started_event_id ASC
	`, workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("read tasks %s/%s: %w", workflowID, runID, err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec := TaskRecord{
			WorkflowID:      workflowID,
			RunID:           runID,
			WorkflowName:    name,
			WorkflowVersion: version,
		}
		var decisions, recordedAt string
		if err := rows.Scan(
			&rec.PreviousStartedEventID, &rec.StartedEventID, &decisions, &rec.DecisionsHash,
			&rec.Error, &rec.EngineVersion, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("read tasks: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(decisions), &rec.Decisions); err != nil {
			return nil, fmt.Errorf("read tasks: decode decisions of task %d: %w", rec.StartedEventID, err)
		}
		if rec.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("read tasks: recorded_at of task %d: %w", rec.StartedEventID, err)
		}
		rec.Events = historyUpTo(events, rec.StartedEventID)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return out, nil
}

// readEvents returns a run's stored events oldest-first.
func (s *Store) readEvents(ctx context.Context, workflowID, runID string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, timestamp, attributes
		FROM events
		WHERE workflow_id = ? AND run_id = ?
		ORDER BY event_id ASC
	`, workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []history.Event
	for rows.Next() {
		var (
			ev        history.Event
			typ, ts   string
			attrsJSON string
		)
		if err := rows.Scan(&ev.ID, &typ, &ts, &attrsJSON); err != nil {
			return nil, fmt.Errorf("read events: scan: %w", err)
		}
		ev.Type = history.EventType(typ)
		if ev.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("read events: timestamp of event %d: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(attrsJSON), &ev.Attributes); err != nil {
			return nil, fmt.Errorf("read events: attributes of event %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// historyUpTo returns the events with id <= last, newest-first. events must
// be oldest-first.
func historyUpTo(events []history.Event, last int64) []history.Event {
	n := 0
	for n < len(events) && events[n].ID <= last {
		n++
	}
	return history.NewestFirst(events[:n])
}
