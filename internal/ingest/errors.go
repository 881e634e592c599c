package ingest

import "errors"

// Error taxonomy for uploads. Every pipeline error wraps exactly one of these; all but
// ErrInterrupted are terminal.
var (
	// ErrUnauthorized: no identity was resolved for the upload request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation: malformed trace or metadata, or diverging sub-trace durations.
	ErrValidation = errors.New("validation failed")
	// ErrExternalTool: the audio converter failed, exited non-zero or timed out.
	ErrExternalTool = errors.New("external tool failed")
	// ErrPersistence: writing artifacts or the summary row failed.
	ErrPersistence = errors.New("persistence failed")
	// ErrInterrupted: the caller cancelled the run before it settled. The pending record and the
	// uploaded parts are left as they were so the job can run again.
	ErrInterrupted = errors.New("interrupted")
)

// State is a step of one pipeline run.
type State string

const (
	StateReceived    State = "received"
	StateValidating  State = "validating"
	StateTranscoding State = "transcoding"
	StatePersisting  State = "persisting"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
)

// StageError records the state a run failed in.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string { return string(e.State) + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// FailedState returns the state recorded in err, or "" if err carries none.
func FailedState(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.State
	}
	return ""
}
