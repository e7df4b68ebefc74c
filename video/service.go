// Package video owns the server side of enhancement: uploads become job records,
// enhance requests start them and hand them to a dispatcher.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidiox/enhance"
	"vidiox/job"
	"vidiox/storage"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

// Dispatcher hands a started job to whatever runs it. It must return without
// waiting for the job to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Admitter refuses new uploads when the host cannot take more work.
type Admitter interface {
	Admit(ctx context.Context) error
}

type Options struct {
	BaseURL      string
	MaxInputSize int64
}

type Service struct {
	store      job.Store
	files      *storage.FileStore
	dispatcher Dispatcher
	admitter   Admitter
	baseURL    string
	maxSize    int64
	log        zerolog.Logger
	now        func() time.Time
}

// NewService wires the service. admitter may be nil.
func NewService(store job.Store, files *storage.FileStore, dispatcher Dispatcher, admitter Admitter, opts Options, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		files:      files,
		dispatcher: dispatcher,
		admitter:   admitter,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxSize:    opts.MaxInputSize,
		log:        log.With().Str("component", "video").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type UploadInput struct {
	File     io.Reader
	Filename string
}

// EnhanceInput carries the parameters fixed when processing starts. A nil
// Settings means the defaults, an empty Type means super resolution.
type EnhanceInput struct {
	Settings *job.Settings
	Type     job.EnhancementType
}

func (in EnhanceInput) resolve() (job.Settings, job.EnhancementType, error) {
	settings := job.DefaultSettings()
	if in.Settings != nil {
		settings = *in.Settings
		settings.Resolution = strings.ToLower(settings.Resolution)
	}
	if err := settings.Validate(); err != nil {
		return settings, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	typ := in.Type
	if typ == "" {
		typ = job.TypeSuperResolution
	}
	if !typ.Valid() {
		return settings, "", fmt.Errorf("%w: unsupported enhancement type %q", ErrInvalidInput, typ)
	}
	return settings, typ, nil
}

// Upload stores a video and creates its record in the uploaded state.
func (s *Service) Upload(ctx context.Context, owner string, in UploadInput) (*job.Job, error) {
	if owner == "" {
		return nil, &enhance.AuthorizationError{Reason: "missing owner"}
	}
	if in.File == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, fmt.Errorf("%w: a video file is required", ErrInvalidInput)
	}
	if s.admitter != nil {
		if err := s.admitter.Admit(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	_, body, err := storage.DetectVideo(in.File)
	switch {
	case errors.Is(err, storage.ErrEmpty), errors.Is(err, storage.ErrNotVideo):
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case err != nil:
		return nil, err
	}

	now := s.now()
	name := storage.ObjectName(in.Filename, now)
	size, err := s.files.Save(ctx, name, body, s.maxSize)
	if err != nil {
		return nil, err
	}

	j := job.New(owner, titleFrom(in.Filename), now)
	j.SourceKey = name
	j.SourceSize = size
	j.SourceURL = s.fileURL(name)
	if err := s.store.Create(ctx, j); err != nil {
		if rmErr := s.files.Remove(name); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("file", name).Msg("remove orphaned upload")
		}
		return nil, fmt.Errorf("create job record: %w", err)
	}
	s.log.Info().Str("job_id", j.ID).Str("owner", owner).Int64("size", size).Msg("video uploaded")
	return j, nil
}

// Enhance starts processing an uploaded video and returns as soon as the job has
// been dispatched. Ownership is checked before anything is written. The video
// already existed, so a dispatch failure is recorded on it as a failed run.
func (s *Service) Enhance(ctx context.Context, owner, videoID string, in EnhanceInput) (*job.Job, error) {
	settings, typ, err := in.resolve()
	if err != nil {
		return nil, err
	}
	j, err := s.owned(ctx, owner, videoID)
	if err != nil {
		return nil, err
	}
	if err := s.start(ctx, j, settings, typ); err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, j.ID); err != nil {
		s.log.Error().Err(err).Str("job_id", j.ID).Msg("dispatch failed")
		if ferr := j.Fail("could not schedule enhancement: "+err.Error(), s.now()); ferr == nil {
			if uerr := s.store.Update(context.WithoutCancel(ctx), j); uerr != nil {
				s.log.Error().Err(uerr).Str("job_id", j.ID).Msg("record dispatch failure")
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Info().Str("job_id", j.ID).Str("type", string(typ)).Str("resolution", settings.Resolution).Msg("enhancement started")
	return j, nil
}

// UploadAndEnhance is Upload followed by Enhance as one submission. Parameters are
// validated before the file is stored. If the job cannot be started, the record
// and the stored file are removed again: the caller got no task id, so nothing
// of the submission survives.
func (s *Service) UploadAndEnhance(ctx context.Context, owner string, up UploadInput, in EnhanceInput) (*job.Job, error) {
	settings, typ, err := in.resolve()
	if err != nil {
		return nil, err
	}
	j, err := s.Upload(ctx, owner, up)
	if err != nil {
		return nil, err
	}

	if err := s.start(ctx, j, settings, typ); err != nil {
		s.discard(ctx, j)
		return nil, err
	}
	if err := s.dispatcher.Dispatch(ctx, j.ID); err != nil {
		s.log.Error().Err(err).Str("job_id", j.ID).Msg("dispatch failed, discarding submission")
		s.discard(ctx, j)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Info().Str("job_id", j.ID).Str("type", string(typ)).Str("resolution", settings.Resolution).Msg("enhancement started")
	return j, nil
}

// start moves j to processing with its final settings and persists it.
func (s *Service) start(ctx context.Context, j *job.Job, settings job.Settings, typ job.EnhancementType) error {
	if err := j.Start(settings, typ, s.now()); err != nil {
		return err
	}
	return s.store.Update(ctx, j)
}

// discard rolls back a submission that never got dispatched.
func (s *Service) discard(ctx context.Context, j *job.Job) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, j.ID); err != nil && !errors.Is(err, job.ErrNotFound) {
		s.log.Error().Err(err).Str("job_id", j.ID).Msg("remove discarded job record")
	}
	if err := s.files.Remove(j.SourceKey); err != nil {
		s.log.Warn().Err(err).Str("file", j.SourceKey).Msg("remove discarded upload")
	}
}

// Status is a read-only view of a job for its owner.
func (s *Service) Status(ctx context.Context, owner, id string) (*enhance.Status, error) {
	j, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return enhance.StatusFromJob(j), nil
}

func (s *Service) Get(ctx context.Context, owner, id string) (*job.Job, error) {
	return s.owned(ctx, owner, id)
}

// List returns the owner's jobs, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, owner string, status job.Status) ([]*job.Job, error) {
	if owner == "" {
		return nil, &enhance.AuthorizationError{Reason: "missing owner"}
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	jobs, err := s.store.ListByOwner(ctx, owner, status)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return jobs, nil
}

func (s *Service) owned(ctx context.Context, owner, id string) (*job.Job, error) {
	if owner == "" {
		return nil, &enhance.AuthorizationError{Reason: "missing owner"}
	}
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != owner {
		return nil, &enhance.AuthorizationError{Reason: "video belongs to another user"}
	}
	return j, nil
}

// fileURL is where a stored file is served.
func (s *Service) fileURL(name string) string {
	return s.baseURL + "/outputs/" + url.PathEscape(name)
}

// titleFrom drops directories and the extension: "holiday.final.mp4" -> "holiday.final".
func titleFrom(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
