package processor

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage where a fatal failure happened.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageResolve  Stage = "resolve-cluster"
	StageAnalyze  Stage = "analyze"
	StagePersist  Stage = "persist"
)

// Sentinel causes surfaced inside a ProcessingError.
var (
	ErrSizeLimitExceeded = errors.New("unpacked archive exceeds size limit")
	ErrClusterIDNotFound = errors.New("could not determine cluster ID from archive")
)

// ProcessingError is the single fatal failure type surfaced to callers.
// Non-fatal conditions (unparseable engine output) never produce one.
type ProcessingError struct {
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("archive processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func failed(stage Stage, err error) error {
	return &ProcessingError{Stage: stage, Err: err}
}
