package models

import "fmt"

// FailureKind classifies pipeline failures.
type FailureKind string

const (
	// FailureProviderUnavailable is a single provider failing or timing
	// out while the chain still has fallbacks. Recovered internally,
	// never surfaced to callers.
	FailureProviderUnavailable FailureKind = "provider_unavailable"
	// FailureStageExhausted means every provider in a stage's chain
	// failed. The utterance fails; the session continues.
	FailureStageExhausted FailureKind = "stage_exhausted"
	// FailureBudgetExceeded means the end-to-end deadline passed before
	// a stage could start. The utterance fails; the session continues.
	FailureBudgetExceeded FailureKind = "budget_exceeded"
	// FailureSessionFault is a bookkeeping failure (registration or
	// persistence). The session transitions to error.
	FailureSessionFault FailureKind = "session_fault"
	// FailureInvalidRequest is a synchronous rejection: unsupported
	// language pair, empty audio, unknown session. No state mutated.
	FailureInvalidRequest FailureKind = "invalid_request"
)

// PipelineError carries the failure classification alongside the stage
// and provider it occurred in.
type PipelineError struct {
	Kind     FailureKind
	Stage    Stage
	Provider string
	Err      error
}

func (e *PipelineError) Error() string {
	switch {
	case e.Provider != "" && e.Err != nil:
		return fmt.Sprintf("%s: stage %s provider %s: %v", e.Kind, e.Stage, e.Provider, e.Err)
	case e.Stage != "" && e.Err != nil:
		return fmt.Sprintf("%s: stage %s: %v", e.Kind, e.Stage, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("%s: stage %s", e.Kind, e.Stage)
	default:
		return string(e.Kind)
	}
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches two PipelineErrors by kind, so callers can test against
// bare kind sentinels without caring about stage or provider.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	return ok && t.Kind == e.Kind
}

func NewPipelineError(kind FailureKind, stage Stage, provider string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Provider: provider, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrStageExhausted = &PipelineError{Kind: FailureStageExhausted}
	ErrBudgetExceeded = &PipelineError{Kind: FailureBudgetExceeded}
	ErrSessionFault   = &PipelineError{Kind: FailureSessionFault}
	ErrInvalidRequest = &PipelineError{Kind: FailureInvalidRequest}
)

// KindOf extracts the failure kind from err, or empty if err is not a
// classified pipeline error.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe.Kind
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return KindOf(u.Unwrap())
	}
	return ""
}
