package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Every pipeline failure matches exactly one of them with errors.Is.
var (
	ErrGeneration  = errors.New("generation failed")
	ErrSynthesis   = errors.New("synthesis failed")
	ErrTranscode   = errors.New("transcode failed")
	ErrLipSync     = errors.New("lip-sync failed")
	ErrPersistence = errors.New("persistence failed")
)

// StageError is the FAILED(stage, cause) outcome of a run.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == e.Kind }

// errorKind labels failures for logs and metrics. Lip-sync process failures are
// kept apart from provider network failures.
func errorKind(kind error) string {
	switch kind {
	case ErrGeneration, ErrSynthesis:
		return "provider"
	case ErrTranscode:
		return "transcode_tool"
	case ErrLipSync:
		return "lipsync_process"
	case ErrPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}
