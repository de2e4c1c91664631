package model

import "fmt"

// ProcessingStatus is the lifecycle status of a track's audio asset.
type ProcessingStatus string

const (
	// StatusPending is the initial status, set when the upload-completion
	// notification creates the asset.
	StatusPending ProcessingStatus = "pending"
	// StatusProcessing means the ingestion pipeline owns the asset.
	StatusProcessing ProcessingStatus = "processing"
	// StatusCompleted is the terminal success status. A completed asset
	// always has a manifest ref and at least one rendition.
	StatusCompleted ProcessingStatus = "completed"
	// StatusFailed is the terminal failure status. The original upload is
	// kept so a retry trigger can re-run the pipeline from scratch.
	StatusFailed ProcessingStatus = "failed"
)

// String returns the status string.
func (s ProcessingStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is a known value.
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a terminal outcome.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether a transition to target is legal.
//
// PROCESSING re-enters itself so a crashed run can safely be re-driven, and
// FAILED re-enters PROCESSING when a retry trigger re-runs the whole
// pipeline. COMPLETED is final: a second run must short-circuit before
// attempting any transition.
func (s ProcessingStatus) CanTransitionTo(target ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusFailed
	case StatusProcessing:
		return target == StatusProcessing || target == StatusCompleted || target == StatusFailed
	case StatusFailed:
		return target == StatusProcessing || target == StatusFailed
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// InvalidTransitionError reports an illegal status transition attempt. It is
// a programming or race error and is surfaced to the caller, never swallowed.
type InvalidTransitionError struct {
	From ProcessingStatus
	To   ProcessingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
