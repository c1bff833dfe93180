package model

import "fmt"

// ValidationError reports a malformed TransformationSpec or request.
// The caller can fix the input and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TranscodeError reports that the engine failed on one unit.
// It does not abort the rest of the matrix.
type TranscodeError struct {
	Unit   Unit
	Stderr string // tail of the engine's diagnostic output
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcode %s: %v: %s", e.Unit, e.Err, e.Stderr)
	}
	return fmt.Sprintf("transcode %s: %v", e.Unit, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// PublishError reports that an otherwise successful unit could not be stored.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// SetupError is fatal for the whole job: the input could not be read,
// the engine did not start, or the job could not be queued.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
