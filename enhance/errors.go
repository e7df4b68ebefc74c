package enhance

import (
	"fmt"
	"time"
)

// SubmissionError means the job was never created. Callers must treat the job as
// not started.
type SubmissionError struct {
	StatusCode int // 0 for transport failures
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submission failed: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submission failed: %s", e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollingError is a failure to query status, not a failure of the job itself.
type PollingError struct {
	TaskID     string
	StatusCode int
	Err        error
}

func (e *PollingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status query for %s failed: status %d: %v", e.TaskID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("status query for %s failed: %v", e.TaskID, e.Err)
}

func (e *PollingError) Unwrap() error { return e.Err }

// JobFailedError is returned once a job reaches the failed state.
type JobFailedError struct {
	TaskID  string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.TaskID, e.Message)
}

// AuthorizationError is returned when a credential does not identify the owner of
// the record it targets.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// TimeoutError is returned when a watched job is still running after the poller's
// ceiling.
type TimeoutError struct {
	TaskID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not finish within %s", e.TaskID, e.After)
}
