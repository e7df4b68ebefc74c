// Package enhance is the client side of the enhancement protocol: submit a video,
// then poll its task until it reaches a terminal state.
package enhance

import (
	"context"
	"io"

	"vidiox/job"
)

// Wire statuses. "uploading" is reported by some backends before the task is
// accepted for processing.
const (
	StatusUploading  = "uploading"
	StatusUploaded   = string(job.StatusUploaded)
	StatusProcessing = string(job.StatusProcessing)
	StatusCompleted  = string(job.StatusCompleted)
	StatusFailed     = string(job.StatusFailed)
)

// Submission is one video plus its enhancement parameters. The caller checks
// that File is a non-empty video before submitting.
type Submission struct {
	File        io.Reader
	Filename    string
	ContentType string
	Type        job.EnhancementType
	Settings    job.Settings
}

// Status is the status body returned by GET /api/status/{taskId}.
type Status struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Backend runs enhancement tasks. Submit returns only once the backend has
// accepted the task; it does not wait for the task to finish.
type Backend interface {
	Submit(ctx context.Context, s Submission) (taskID string, err error)
	Status(ctx context.Context, taskID string) (*Status, error)
}

// StatusFromJob renders a job record as the wire status.
func StatusFromJob(j *job.Job) *Status {
	st := &Status{
		TaskID:   j.ID,
		Status:   string(j.Status),
		Progress: j.Progress,
	}
	switch j.Status {
	case job.StatusCompleted:
		st.DownloadURL = j.ResultURL
	case job.StatusFailed:
		st.Error = j.Error
	}
	return st
}
