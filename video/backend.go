package video

import (
	"context"
	"errors"
	"net/http"

	"vidiox/enhance"
	"vidiox/job"
)

// Backend runs enhancements in-process for a fixed owner. It satisfies
// enhance.Backend, so the poller can watch local jobs exactly like remote ones.
type Backend struct {
	svc   *Service
	owner string
}

func NewBackend(svc *Service, owner string) *Backend {
	return &Backend{svc: svc, owner: owner}
}

func (b *Backend) Submit(ctx context.Context, s enhance.Submission) (string, error) {
	in := EnhanceInput{Type: s.Type}
	if s.Settings != (job.Settings{}) {
		settings := s.Settings
		in.Settings = &settings
	}
	j, err := b.svc.UploadAndEnhance(ctx, b.owner, UploadInput{File: s.File, Filename: s.Filename}, in)
	if err != nil {
		se := &enhance.SubmissionError{Message: err.Error(), Err: err}
		var ae *enhance.AuthorizationError
		if errors.As(err, &ae) {
			se.StatusCode = http.StatusForbidden
		}
		return "", se
	}
	return j.ID, nil
}

func (b *Backend) Status(ctx context.Context, taskID string) (*enhance.Status, error) {
	return b.svc.Status(ctx, b.owner, taskID)
}

var _ enhance.Backend = (*Backend)(nil)
