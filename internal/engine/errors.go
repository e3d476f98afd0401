package engine

import (
	"errors"
	"fmt"
	"strings"
)

// DeclarationError reports a defect in a workflow declaration, detected by
// Builder.Build before any history is replayed.
type DeclarationError struct {
	// Code identifies the error category.
	Code DeclarationErrorCode

	// Message is a human-readable description.
	Message string

	// Workflow is the declaring workflow's name.
	Workflow string

	// Item is the offending item, when there is one.
	Item string

	// Path lists the items forming a dependency cycle.
	Path []string
}

// DeclarationErrorCode categorizes declaration errors.
type DeclarationErrorCode string

const (
	// ErrCodeDuplicateItem indicates two items share an identity.
	ErrCodeDuplicateItem DeclarationErrorCode = "DUPLICATE_ITEM"

	// ErrCodeParentItemMissing indicates DependsOn names an undeclared item.
	ErrCodeParentItemMissing DeclarationErrorCode = "PARENT_ITEM_MISSING"

	// ErrCodeDependencyCycle indicates items depend on each other in a loop.
	ErrCodeDependencyCycle DeclarationErrorCode = "DEPENDENCY_CYCLE"

	// ErrCodeInvalidItem indicates an item with missing or bad settings.
	ErrCodeInvalidItem DeclarationErrorCode = "INVALID_ITEM"
)

// Error implements the error interface.
func (e *DeclarationError) Error() string {
	switch {
	case len(e.Path) > 0:
		return fmt.Sprintf("%s: %s (workflow=%s, path=%s)", e.Code, e.Message, e.Workflow, strings.Join(e.Path, " -> "))
	case e.Item != "":
		return fmt.Sprintf("%s: %s (workflow=%s, item=%s)", e.Code, e.Message, e.Workflow, e.Item)
	}
	return fmt.Sprintf("%s: %s (workflow=%s)", e.Code, e.Message, e.Workflow)
}

// ReplayError reports a mismatch between a history and the workflow replaying
// it. Replay errors abort the whole decision task: no decisions are returned.
type ReplayError struct {
	// Code identifies the error category.
	Code ReplayErrorCode

	// Message is a human-readable description.
	Message string

	// EventID is the history event being interpreted, if any.
	EventID int64

	// Err is the underlying cause, if any.
	Err error
}

// ReplayErrorCode categorizes replay errors.
type ReplayErrorCode string

const (
	// ErrCodeIncompatibleWorkflow indicates an event for an item the workflow
	// does not declare.
	ErrCodeIncompatibleWorkflow ReplayErrorCode = "INCOMPATIBLE_WORKFLOW"

	// ErrCodeSignalResume indicates a signal handler resumed an item that is
	// not waiting for that signal.
	ErrCodeSignalResume ReplayErrorCode = "SIGNAL_RESUME"

	// ErrCodeNotInterpretable indicates Interpret was called on a support
	// event such as ActivityTaskScheduled.
	ErrCodeNotInterpretable ReplayErrorCode = "NOT_INTERPRETABLE"

	// ErrCodeMalformedMarker indicates an engine marker with a bad payload.
	ErrCodeMalformedMarker ReplayErrorCode = "MALFORMED_MARKER"

	// ErrCodeMalformedHistory indicates a structurally invalid history.
	ErrCodeMalformedHistory ReplayErrorCode = "MALFORMED_HISTORY"

	// ErrCodeInvalidAction indicates a handler returned an action that
	// cannot be lowered, such as a wait with no signal names.
	ErrCodeInvalidAction ReplayErrorCode = "INVALID_ACTION"
)

// Error implements the error interface.
func (e *ReplayError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EventID > 0 {
		msg = fmt.Sprintf("%s (event=%d)", msg, e.EventID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ReplayError) Unwrap() error { return e.Err }

func declarationCode(err error) DeclarationErrorCode {
	var de *DeclarationError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func replayCode(err error) ReplayErrorCode {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsDuplicateItemError returns true if err is a duplicate item declaration.
// Uses errors.As to handle wrapped errors.
func IsDuplicateItemError(err error) bool {
	return declarationCode(err) == ErrCodeDuplicateItem
}

// IsParentItemMissingError returns true if err is a DependsOn on an
// undeclared item.
func IsParentItemMissingError(err error) bool {
	return declarationCode(err) == ErrCodeParentItemMissing
}

// IsDependencyCycleError returns true if err is a dependency cycle.
func IsDependencyCycleError(err error) bool {
	return declarationCode(err) == ErrCodeDependencyCycle
}

// IsIncompatibleWorkflowError returns true if err reports history that the
// workflow declaration cannot replay.
func IsIncompatibleWorkflowError(err error) bool {
	return replayCode(err) == ErrCodeIncompatibleWorkflow
}

// IsSignalResumeError returns true if err reports an invalid resume from a
// custom signal handler.
func IsSignalResumeError(err error) bool {
	return replayCode(err) == ErrCodeSignalResume
}

// IsReplayError returns true for any replay defect.
func IsReplayError(err error) bool {
	return replayCode(err) != ""
}

func newIncompatibleError(eventID int64, format string, args ...any) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeIncompatibleWorkflow,
		Message: fmt.Sprintf(format, args...),
		EventID: eventID,
	}
}

func newInvalidActionError(eventID int64, format string, args ...any) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeInvalidAction,
		Message: fmt.Sprintf(format, args...),
		EventID: eventID,
	}
}

func newSignalResumeError(eventID int64, format string, args ...any) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeSignalResume,
		Message: fmt.Sprintf(format, args...),
		EventID: eventID,
	}
}
