package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/guflow/internal/backend"
	"github.com/roach88/guflow/internal/backend/swf"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/host"
)

// PollOptions holds flags for the poll command.
type PollOptions struct {
	*RootOptions
	StoreOptions
	Workflows []string
	SWF       swf.Config
	Host      host.Config

	// Backend replaces the SWF backend when set.
	Backend backend.Backend
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	return newPollCommand(&PollOptions{
		RootOptions: rootOpts,
		SWF:         swf.DefaultConfig(),
		Host:        host.DefaultConfig(),
	})
}

// newPollCommand binds the flags to opts; their defaults are the values
// already in opts.
func newPollCommand(opts *PollOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Decide workflow tasks from SWF until interrupted",
		Long: `Poll an SWF domain and task list for decision tasks and answer each
with the decisions of its declared workflow.

AWS credentials and region come from the default configuration chain
(environment, shared config, instance role) unless overridden by flags.
With --db or --redis every decided task is recorded for later replay.

Examples:
  guflow poll --workflows ./workflows --domain orders --task-list deciders
  guflow poll --workflows ./workflows --domain orders --task-list deciders --db ./guflow.db --pollers 4
  guflow poll --workflows ./workflows --domain test --task-list t --endpoint http://localhost:4566`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Workflows, "workflows", nil, "CUE workflow files or directories (required)")
	_ = cmd.MarkFlagRequired("workflows")
	cmd.Flags().StringVar(&opts.SWF.Domain, "domain", "", "SWF domain")
	cmd.Flags().StringVar(&opts.SWF.TaskList, "task-list", "", "decision task list")
	cmd.Flags().StringVar(&opts.SWF.Identity, "identity", "", "poller identity (default guflow-<uuid>)")
	cmd.Flags().StringVar(&opts.SWF.Region, "region", "", "AWS region")
	cmd.Flags().StringVar(&opts.SWF.Endpoint, "endpoint", "", "SWF endpoint override")
	cmd.Flags().Int32Var(&opts.SWF.PageSize, "page-size", opts.SWF.PageSize, "history events per page")
	cmd.Flags().IntVar(&opts.Host.Pollers, "pollers", opts.Host.Pollers, "concurrent pollers")
	cmd.Flags().DurationVar(&opts.Host.PollBackoff, "backoff", opts.Host.PollBackoff, "pause after a failed poll")
	opts.StoreOptions.addFlags(cmd)

	return cmd
}

func runPoll(ctx context.Context, opts *PollOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	eng, loaded, err := loadRegistered(opts.Workflows, engine.WithLogger(log))
	if err != nil {
		return err
	}
	log.Info("workflows loaded", "files", len(loaded.Files), "workflows", len(loaded.Workflows))

	b := opts.Backend
	if b == nil {
		sb, err := swf.New(ctx, opts.SWF, log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to configure SWF", err)
		}
		b = sb
	}

	hostOpts := []host.Option{host.WithConfig(opts.Host), host.WithLogger(log)}
	if opts.configured() {
		st, err := opts.open(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open task store", err)
		}
		defer st.Close()
		hostOpts = append(hostOpts, host.WithRecorder(st))
	}

	h := host.New(b, eng, hostOpts...)
	log.Info("polling", "domain", opts.SWF.Domain, "task_list", opts.SWF.TaskList, "pollers", opts.Host.Pollers)
	if err := h.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "poller stopped", err)
	}

	stats := h.Stats()
	formatter := newFormatter(opts.RootOptions, cmd)
	if formatter.JSON() {
		return formatter.Success(stats)
	}
	fmt.Fprintf(formatter.Writer, "Stopped: %d decided, %d aborted, %d failed\n", stats.Decided, stats.Aborted, stats.Failed)
	return nil
}
