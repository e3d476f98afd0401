package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/guflow/internal/compiler"
)

// ValidationResult is the outcome of one validation pass.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Workflows []string                   `json:"workflows,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Watch    bool
	Debounce time.Duration
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate workflow declarations",
		Long: `Validate CUE workflow declarations.

Checks syntax, item settings, references between items and dependency
cycles, and reports every error at once. Paths may be files or
directories.

With --watch the declarations are validated again whenever a .cue file
under the paths changes, until interrupted.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Watch {
				return watchValidate(cmd.Context(), opts, args, cmd)
			}
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "validate again on every change")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "quiet period before validating after a change")

	return cmd
}

// validatePaths runs one validation pass. The error is set only when the
// declarations could not be read at all.
func validatePaths(paths []string) (ValidationResult, *LoadError) {
	result, errs := LoadWorkflows(paths...)
	if result == nil {
		if lerr, ok := errs[0].(*LoadError); ok {
			return ValidationResult{}, lerr
		}
		return ValidationResult{}, &LoadError{Code: ErrCodeGeneric, Message: errs[0].Error()}
	}
	if len(errs) > 0 {
		return ValidationResult{Errors: validationErrors(errs)}, nil
	}
	out := ValidationResult{Valid: true}
	for _, w := range result.Workflows {
		out.Workflows = append(out.Workflows, fmt.Sprintf("%s(%s)", w.Name(), w.Version()))
	}
	return out, nil
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	result, lerr := validatePaths(paths)
	if lerr != nil {
		_ = formatter.Error(lerr.Code, lerr.Message, nil)
		return NewExitError(ExitCommandError, lerr.Error())
	}
	if err := outputValidation(formatter, result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func outputValidation(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		return formatter.Failure(result.Errors[0].Code, result.Errors[0].Message, result)
	}

	w := formatter.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ %d workflow(s) valid\n", len(result.Workflows))
		for _, name := range result.Workflows {
			formatter.VerboseLog("  %s", name)
		}
		return nil
	}
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "line %d\n", e.Line)
		}
		fmt.Fprintf(w, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
	}
	return nil
}

// watchValidate validates once, then again after every burst of changes
// to .cue files under paths. It returns when ctx is done.
func watchValidate(ctx context.Context, opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "create watcher", err)
	}
	defer watcher.Close()

	dirs, err := watchDirs(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "watch", err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return WrapExitError(ExitCommandError, "watch "+dir, err)
		}
	}

	pass := func() {
		result, lerr := validatePaths(paths)
		if lerr != nil {
			_ = formatter.Error(lerr.Code, lerr.Message, nil)
			return
		}
		if err := outputValidation(formatter, result); err != nil {
			log.Error("write validation result", "error", err)
		}
	}
	pass()

	// A stopped timer with a drained channel; Reset arms it.
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".cue" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Debug("declaration changed", "file", event.Name, "op", event.Op.String())
			debounce.Reset(opts.Debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		case <-debounce.C:
			pass()
		}
	}
}

// watchDirs lists the directories to watch for paths: every directory
// under a directory argument and the parent of a file argument.
func watchDirs(paths []string) ([]string, error) {
	var dirs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			dirs = append(dirs, filepath.Dir(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(dirs)
	return slices.Compact(dirs), nil
}

// ValidatePaths validates the declarations under paths and returns the
// declaration errors.
func ValidatePaths(paths ...string) ([]compiler.ValidationError, error) {
	result, lerr := validatePaths(paths)
	if lerr != nil {
		return nil, lerr
	}
	return result.Errors, nil
}

