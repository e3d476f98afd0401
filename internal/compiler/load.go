package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/guflow/internal/engine"
)

// LoadFiles compiles CUE files and unifies them into one value.
func LoadFiles(paths ...string) (cue.Value, error) {
	if len(paths) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE files given")
	}
	ctx := cuecontext.New()
	var v cue.Value
	for i, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("read %s: %w", path, err)
		}
		fv := ctx.CompileBytes(src, cue.Filename(path))
		if err := fv.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		if i == 0 {
			v = fv
			continue
		}
		v = v.Unify(fv)
	}
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// Workflows compiles, validates and builds every workflow declared in v.
// All compile and validation errors are returned together; nothing is
// built unless every declaration is valid.
func Workflows(v cue.Value) ([]*engine.Workflow, []error) {
	specs, errs := CompileAll(v)
	for _, spec := range specs {
		for _, verr := range Validate(spec) {
			errs = append(errs, fmt.Errorf("workflow %s: %w", spec.Name, verr))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(specs) == 0 {
		return nil, []error{fmt.Errorf("no workflows declared")}
	}
	ws, err := BuildAll(specs)
	if err != nil {
		return nil, []error{err}
	}
	return ws, nil
}
