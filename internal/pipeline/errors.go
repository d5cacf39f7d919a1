// Package pipeline implements the Pipeline graph, its state machine, and
// the per-worker goroutine runtime that drives Nodes registered in
// internal/graph.
package pipeline

import "errors"

// Sentinel errors for the request/build/scheduling failure classes,
// checked with errors.Is rather than typed errors.
var (
	ErrBadRequest               = errors.New("pipeline: bad request")
	ErrHandleNotFound           = errors.New("pipeline: handle does not exist")
	ErrBuildFailure             = errors.New("pipeline: build failure")
	ErrCapacityExceeded         = errors.New("pipeline: capacity exceeded")
	ErrStreamConsistencyViolation = errors.New("pipeline: stream consistency violation")
	ErrDecodeFailure            = errors.New("pipeline: decode failure")
	ErrNoRoiDetected            = errors.New("pipeline: no roi detected")
	ErrTimeout                  = errors.New("pipeline: timeout")
	ErrFatal                    = errors.New("pipeline: fatal worker error")
	ErrInvalidTransition        = errors.New("pipeline: invalid state transition")
	ErrNodeNotFound             = errors.New("pipeline: node not found")
	ErrPortClosed               = errors.New("pipeline: port closed")
)
