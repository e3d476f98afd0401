// Package swf adapts Amazon Simple Workflow Service to backend.Backend.
package swf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	swfapi "github.com/aws/aws-sdk-go-v2/service/swf"
	swftypes "github.com/aws/aws-sdk-go-v2/service/swf/types"

	"github.com/roach88/guflow/internal/backend"
	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// API is the subset of the SWF client the adapter calls.
type API interface {
	PollForDecisionTask(ctx context.Context, in *swfapi.PollForDecisionTaskInput, optFns ...func(*swfapi.Options)) (*swfapi.PollForDecisionTaskOutput, error)
	RespondDecisionTaskCompleted(ctx context.Context, in *swfapi.RespondDecisionTaskCompletedInput, optFns ...func(*swfapi.Options)) (*swfapi.RespondDecisionTaskCompletedOutput, error)
}

// Config selects the domain and task list to poll.
type Config struct {
	Domain   string
	TaskList string
	Identity string

	// Region and Endpoint override the default AWS configuration chain.
	Region   string
	Endpoint string

	// PageSize caps the events per history page. Zero lets SWF choose.
	PageSize int32
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{PageSize: 1000}
}

// Backend polls SWF for decision tasks.
type Backend struct {
	api API
	cfg Config
	log *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New builds a Backend from the default AWS configuration chain.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Backend, error) {
	if cfg.Domain == "" || cfg.TaskList == "" {
		return nil, errors.New("swf: domain and task list are required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := swfapi.NewFromConfig(awscfg, func(o *swfapi.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg, log), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(api API, cfg Config, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Identity == "" {
		cfg.Identity = backend.WorkerIdentity("guflow", nil)
	}
	return &Backend{api: api, cfg: cfg, log: log}
}

// PollForDecisionTask long-polls for a decision task and fetches every
// page of its history, newest first. It returns nil when the poll ends
// without a task.
func (b *Backend) PollForDecisionTask(ctx context.Context) (*history.DecisionTask, error) {
	in := &swfapi.PollForDecisionTaskInput{
		Domain:          aws.String(b.cfg.Domain),
		TaskList:        &swftypes.TaskList{Name: aws.String(b.cfg.TaskList)},
		Identity:        aws.String(b.cfg.Identity),
		MaximumPageSize: b.cfg.PageSize,
		ReverseOrder:    true,
	}
	out, err := b.api.PollForDecisionTask(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("swf PollForDecisionTask: %w", err)
	}
	token := aws.ToString(out.TaskToken)
	if token == "" {
		return nil, nil
	}

	first, err := page(out)
	if err != nil {
		return nil, err
	}
	pages := []history.Page{first}
	for next := first.NextPageToken; next != ""; {
		in.NextPageToken = aws.String(next)
		more, err := b.api.PollForDecisionTask(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("swf PollForDecisionTask page %d: %w", len(pages)+1, err)
		}
		p, err := page(more)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
		next = p.NextPageToken
	}
	events, err := history.MergePages(pages)
	if err != nil {
		return nil, fmt.Errorf("swf history: %w", err)
	}

	task := &history.DecisionTask{
		TaskToken:              token,
		Events:                 events,
		PreviousStartedEventID: id(out.PreviousStartedEventId),
		StartedEventID:         id(out.StartedEventId),
	}
	if we := out.WorkflowExecution; we != nil {
		task.WorkflowID = aws.ToString(we.WorkflowId)
		task.RunID = aws.ToString(we.RunId)
	}
	if wt := out.WorkflowType; wt != nil {
		task.WorkflowName = aws.ToString(wt.Name)
		task.WorkflowVersion = aws.ToString(wt.Version)
	}
	b.log.Debug("decision task polled",
		"workflow", task.WorkflowName,
		"workflow_id", task.WorkflowID,
		"run_id", task.RunID,
		"events", len(events),
		"pages", len(pages))
	return task, nil
}

func page(out *swfapi.PollForDecisionTaskOutput) (history.Page, error) {
	events := make([]history.Event, 0, len(out.Events))
	for _, e := range out.Events {
		ev, err := convertEvent(e)
		if err != nil {
			return history.Page{}, err
		}
		events = append(events, ev)
	}
	return history.Page{Events: events, NextPageToken: aws.ToString(out.NextPageToken)}, nil
}

// RespondWithDecisions lowers the batch to SWF decisions and completes the
// task.
func (b *Backend) RespondWithDecisions(ctx context.Context, taskToken string, decisions []decision.Decision) error {
	wire, err := decision.Wire(decisions)
	if err != nil {
		return fmt.Errorf("swf respond: %w", err)
	}
	out := make([]swftypes.Decision, 0, len(wire))
	for _, d := range wire {
		sd, err := convertDecision(d)
		if err != nil {
			return fmt.Errorf("swf respond: %w", err)
		}
		out = append(out, sd)
	}
	_, err = b.api.RespondDecisionTaskCompleted(ctx, &swfapi.RespondDecisionTaskCompletedInput{
		TaskToken: aws.String(taskToken),
		Decisions: out,
	})
	if err != nil {
		return fmt.Errorf("swf RespondDecisionTaskCompleted: %w", err)
	}
	return nil
}
