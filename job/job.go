package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type EnhancementType string

const (
	TypeSuperResolution EnhancementType = "super_resolution"
	TypeDenoising       EnhancementType = "denoising"
	TypeInterpolation   EnhancementType = "interpolation"
	TypeRestoration     EnhancementType = "restoration"
)

func (t EnhancementType) Valid() bool {
	switch t {
	case TypeSuperResolution, TypeDenoising, TypeInterpolation, TypeRestoration:
		return true
	}
	return false
}

var (
	resolutions = map[string]bool{"hd": true, "2k": true, "4k": true, "8k": true}
	frameRates  = map[string]bool{"24": true, "30": true, "60": true, "120": true}
)

// Settings are the enhancement parameters chosen by the user.
type Settings struct {
	Resolution   string `json:"resolution"`
	FPS          string `json:"fps"`
	Denoise      bool   `json:"denoise"`
	ColorEnhance bool   `json:"color_enhance"`
	Stabilize    bool   `json:"stabilize"`
}

func DefaultSettings() Settings {
	return Settings{
		Resolution:   "4k",
		FPS:          "30",
		Denoise:      true,
		ColorEnhance: true,
	}
}

func (s Settings) Validate() error {
	if !resolutions[strings.ToLower(s.Resolution)] {
		return fmt.Errorf("unsupported resolution %q", s.Resolution)
	}
	if !frameRates[s.FPS] {
		return fmt.Errorf("unsupported fps %q", s.FPS)
	}
	return nil
}

var (
	ErrNotFound          = errors.New("job not found")
	ErrConflict          = errors.New("job was modified concurrently")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrAlreadyRunning    = errors.New("job is already processing")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Job is the persisted record of one video's enhancement lifecycle.
type Job struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`
	OwnerID          string          `gorm:"size:128;index;not null" json:"owner_id"`
	Title            string          `gorm:"size:255" json:"title"`
	Status           Status          `gorm:"type:varchar(16);index;not null" json:"status"`
	Progress         int             `gorm:"not null;default:0" json:"progress"`
	EnhancementType  EnhancementType `gorm:"type:varchar(32)" json:"enhancement_type,omitempty"`
	Settings         Settings        `gorm:"serializer:json;type:text" json:"settings"`
	SourceKey        string          `gorm:"type:text" json:"-"`
	SourceURL        string          `gorm:"type:text" json:"source_url"`
	SourceSize       int64           `json:"source_size"`
	ResultURL        string          `gorm:"type:text" json:"result_url,omitempty"`
	ResultSize       int64           `json:"result_size,omitempty"`
	ResultResolution string          `gorm:"size:16" json:"result_resolution,omitempty"`
	Error            string          `gorm:"type:text" json:"error,omitempty"`
	Version          int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (Job) TableName() string { return "enhancement_jobs" }

func NewID() string {
	return fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
}

// New returns an uploaded record owned by ownerID.
func New(ownerID, title string, now time.Time) *Job {
	return &Job{
		ID:        NewID(),
		OwnerID:   ownerID,
		Title:     title,
		Status:    StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start moves an uploaded job to processing with progress 0. Settings and type are
// fixed from this point on.
func (j *Job) Start(settings Settings, typ EnhancementType, now time.Time) error {
	switch {
	case j.Status.Terminal():
		return ErrTerminal
	case j.Status == StatusProcessing:
		return ErrAlreadyRunning
	}
	j.Status = StatusProcessing
	j.Progress = 0
	j.Settings = settings
	j.EnhancementType = typ
	j.UpdatedAt = now
	return nil
}

func (j *Job) Advance(progress int, now time.Time) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: advance from %s", ErrInvalidTransition, j.Status)
	}
	if progress < j.Progress || progress > 100 {
		return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, j.Progress, progress)
	}
	j.Progress = progress
	j.UpdatedAt = now
	return nil
}

func (j *Job) Complete(resultURL string, resultSize int64, resolution string, now time.Time) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, j.Status)
	}
	if resultURL == "" {
		return fmt.Errorf("%w: empty result url", ErrInvalidTransition)
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.ResultURL = resultURL
	j.ResultSize = resultSize
	j.ResultResolution = resolution
	j.UpdatedAt = now
	return nil
}

// Fail records a terminal failure. Progress is left where it was.
func (j *Job) Fail(message string, now time.Time) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	j.Status = StatusFailed
	j.Error = message
	j.UpdatedAt = now
	return nil
}

func (j *Job) Clone() *Job {
	c := *j
	return &c
}
