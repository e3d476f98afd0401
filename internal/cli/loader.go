package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/guflow/internal/compiler"
	"github.com/roach88/guflow/internal/engine"
)

// LoadResult holds the workflows declared in a set of CUE files.
type LoadResult struct {
	Files     []string
	Value     cue.Value
	Specs     []*compiler.WorkflowSpec
	Workflows []*engine.Workflow
}

// LoadError is a failure to load declarations at all, as opposed to a
// declaration that does not validate.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes shared by all commands. Declaration errors use the
// compiler's E1xx codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
	ErrCodeBadInput    = "E007"
)

// FindCUEFiles expands paths into the .cue files they name. Directories
// are walked recursively. The result is sorted and free of duplicates.
func FindCUEFiles(paths ...string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", p)}
		}
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: err.Error()}
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == ".cue" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("scan %s: %v", p, err)}
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// LoadWorkflows compiles, validates and builds the workflows declared
// under paths. A nil result means nothing could be loaded; otherwise the
// errors are declaration errors and Workflows is empty.
func LoadWorkflows(paths ...string) (*LoadResult, []error) {
	files, err := FindCUEFiles(paths...)
	if err != nil {
		return nil, []error{err}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %v", paths)}}
	}

	v, err := compiler.LoadFiles(files...)
	if err != nil {
		return nil, []error{convertCompileError(err, ErrCodeLoadFailed)}
	}
	result := &LoadResult{Files: files, Value: v}

	specs, compileErrs := compiler.CompileAll(v)
	result.Specs = specs
	var errs []error
	for _, err := range compileErrs {
		errs = append(errs, convertCompileError(err, ErrCodeGeneric))
	}
	for _, spec := range specs {
		for _, verr := range compiler.Validate(spec) {
			errs = append(errs, verr)
		}
	}
	if len(errs) > 0 {
		return result, errs
	}
	if len(specs) == 0 {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no workflows declared"}}
	}

	ws, err := compiler.BuildAll(specs)
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeBuildFailed, Message: err.Error()}}
	}
	result.Workflows = ws
	return result, nil
}

// validationErrors flattens load errors into the validation error list the
// validate command reports.
func validationErrors(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		var verr compiler.ValidationError
		var lerr *LoadError
		switch {
		case errors.As(err, &verr):
			out = append(out, verr)
		case errors.As(err, &lerr):
			out = append(out, compiler.ValidationError{
				Field:   "load",
				Message: lerr.Message,
				Code:    lerr.Code,
				Line:    lineOf(lerr.Pos),
			})
		default:
			out = append(out, compiler.ValidationError{Field: "workflow", Message: err.Error(), Code: ErrCodeGeneric})
		}
	}
	return out
}

func convertCompileError(err error, code string) *LoadError {
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) && cerr.Pos.IsValid() {
		return &LoadError{Code: code, Message: cerr.Message, Pos: cerr.Pos}
	}
	return &LoadError{Code: code, Message: err.Error()}
}

func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// loadRegistered loads workflows and registers them with a new engine.
func loadRegistered(paths []string, opts ...engine.Option) (*engine.Engine, *LoadResult, error) {
	result, errs := LoadWorkflows(paths...)
	if len(errs) > 0 {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load workflows", errors.Join(errs...))
	}
	eng := engine.New(opts...)
	if err := eng.Register(result.Workflows...); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to register workflows", err)
	}
	return eng, result, nil
}
