// Package redisstore implements the decision task log on Redis.
package redisstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/store"
)

// Store is a store.Recorder and store.Reader backed by Redis.
// Key layout:
//
//	<prefix>runs                   => SET of "<workflow id>\n<run id>"
//	<prefix>run:<wf>:<run>         => HASH workflow_name, workflow_version
//	<prefix>events:<wf>:<run>      => HASH event id => JSON event
//	<prefix>tasks:<wf>:<run>       => HASH started event id => JSON task
//
// Fields are written with HSETNX so recording a task twice keeps the first
// copy.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ store.Recorder = (*Store)(nil)
	_ store.Reader   = (*Store)(nil)
)

// Config holds the connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. An empty prefix means "guflow:".
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "guflow:"
	}
	return &Store{client: client, prefix: prefix}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) keyRuns() string { return s.prefix + "runs" }

func (s *Store) keyRun(wf, run string) string { return s.prefix + "run:" + wf + ":" + run }

func (s *Store) keyEvents(wf, run string) string { return s.prefix + "events:" + wf + ":" + run }

func (s *Store) keyTasks(wf, run string) string { return s.prefix + "tasks:" + wf + ":" + run }

func runMember(wf, run string) string { return wf + "\n" + run }

// RecordTask writes a task and its events in one MULTI/EXEC.
func (s *Store) RecordTask(ctx context.Context, rec store.TaskRecord) error {
	if rec.WorkflowID == "" || rec.RunID == "" {
		return errors.New("record task: workflow id and run id are required")
	}
	task, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	events := make(map[string][]byte, len(rec.Events))
	for _, ev := range rec.Events {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("record task: marshal %s: %w", ev, err)
		}
		events[strconv.FormatInt(ev.ID, 10)] = b
	}

	wf, run := rec.WorkflowID, rec.RunID
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.keyRuns(), runMember(wf, run))
		p.HSetNX(ctx, s.keyRun(wf, run), "workflow_name", rec.WorkflowName)
		p.HSetNX(ctx, s.keyRun(wf, run), "workflow_version", rec.WorkflowVersion)
		for id, b := range events {
			p.HSetNX(ctx, s.keyEvents(wf, run), id, b)
		}
		p.HSetNX(ctx, s.keyTasks(wf, run), strconv.FormatInt(rec.StartedEventID, 10), task)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record task %s/%s %d: %w", wf, run, rec.StartedEventID, err)
	}
	return nil
}

// ListRuns returns every recorded run ordered by workflow id then run id.
func (s *Store) ListRuns(ctx context.Context) ([]store.RunRef, error) {
	members, err := s.client.SMembers(ctx, s.keyRuns()).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []store.RunRef
	for _, m := range members {
		wf, run, ok := strings.Cut(m, "\n")
		if !ok {
			continue
		}
		meta, err := s.client.HGetAll(ctx, s.keyRun(wf, run)).Result()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		n, err := s.client.HLen(ctx, s.keyTasks(wf, run)).Result()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, store.RunRef{
			WorkflowID:      wf,
			RunID:           run,
			WorkflowName:    meta["workflow_name"],
			WorkflowVersion: meta["workflow_version"],
			Tasks:           int(n),
		})
	}
	slices.SortFunc(runs, func(a, b store.RunRef) int {
		if c := cmp.Compare(a.WorkflowID, b.WorkflowID); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
	return runs, nil
}

// ReadTasks returns a run's tasks ordered by StartedEventID, each with its
// history up to that event.
func (s *Store) ReadTasks(ctx context.Context, workflowID, runID string) ([]store.TaskRecord, error) {
	ok, err := s.client.SIsMember(ctx, s.keyRuns(), runMember(workflowID, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read tasks %s/%s: %w", workflowID, runID, err)
	}
	if !ok {
		return nil, fmt.Errorf("read tasks %s/%s: run not recorded", workflowID, runID)
	}

	rawEvents, err := s.client.HVals(ctx, s.keyEvents(workflowID, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read tasks %s/%s: events: %w", workflowID, runID, err)
	}
	events := make([]history.Event, 0, len(rawEvents))
	for _, raw := range rawEvents {
		var ev history.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("read tasks %s/%s: decode event: %w", workflowID, runID, err)
		}
		events = append(events, ev)
	}
	events = history.OldestFirst(events)

	rawTasks, err := s.client.HVals(ctx, s.keyTasks(workflowID, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read tasks %s/%s: %w", workflowID, runID, err)
	}
	out := make([]store.TaskRecord, 0, len(rawTasks))
	for _, raw := range rawTasks {
		var rec store.TaskRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("read tasks %s/%s: decode task: %w", workflowID, runID, err)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b store.TaskRecord) int {
		return cmp.Compare(a.StartedEventID, b.StartedEventID)
	})
	for i := range out {
		out[i].Events = upTo(events, out[i].StartedEventID)
	}
	return out, nil
}

func upTo(oldestFirst []history.Event, last int64) []history.Event {
	n := 0
	for n < len(oldestFirst) && oldestFirst[n].ID <= last {
		n++
	}
	return history.NewestFirst(oldestFirst[:n])
}
