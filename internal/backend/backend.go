// Package backend defines the contract between the decision host and the
// workflow coordination service, plus an in-memory service for tests and
// local runs.
package backend

import (
	"context"
	"errors"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// Backend hands out decision tasks and accepts their decision batches.
type Backend interface {
	// PollForDecisionTask waits for the next decision task. It returns a nil
	// task and a nil error when a long poll ends without work.
	PollForDecisionTask(ctx context.Context) (*history.DecisionTask, error)

	// RespondWithDecisions completes a decision task. Bookkeeping decisions
	// are lowered to markers by the backend.
	RespondWithDecisions(ctx context.Context, taskToken string, decisions []decision.Decision) error
}

// ErrUnknownTaskToken is returned when responding to a task that was never
// handed out or was already completed.
var ErrUnknownTaskToken = errors.New("unknown task token")
