package enhance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollMaxWait  = 30 * time.Minute
)

type Update struct {
	Status   string
	Progress int
}

// Result is the outcome of a job that completed.
type Result struct {
	TaskID      string
	State       string
	Progress    int
	ArtifactURL string
}

// Poller watches a task by querying its status at a fixed interval.
type Poller struct {
	Backend  Backend
	Interval time.Duration
	// MaxWait bounds a single Watch. Zero means DefaultPollMaxWait.
	MaxWait time.Duration
	// Retries is how many consecutive failed queries are tolerated before
	// Watch gives up with a PollingError. An AuthorizationError is never retried.
	Retries int
	Log     zerolog.Logger
}

func NewPoller(b Backend, interval, maxWait time.Duration) *Poller {
	return &Poller{
		Backend:  b,
		Interval: interval,
		MaxWait:  maxWait,
		Log:      zerolog.Nop(),
	}
}

// Watch polls taskID until it completes, fails, the ceiling is reached or ctx is
// done. onUpdate sees non-decreasing progress; for a completed job its last call
// carries status completed and progress 100. A failed job is reported only through
// the returned *JobFailedError. onUpdate is never called after ctx is canceled.
func (p *Poller) Watch(ctx context.Context, taskID string, onUpdate func(Update)) (*Result, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultPollMaxWait
	}
	// wctx bounds the whole watch, including a query still in flight.
	wctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	stopped := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &TimeoutError{TaskID: taskID, After: maxWait}
	}

	last := -1
	emit := func(st *Status) {
		if ctx.Err() != nil || onUpdate == nil || st.Progress < last {
			return
		}
		last = st.Progress
		onUpdate(Update{Status: st.Status, Progress: st.Progress})
	}

	failures := 0
	for {
		st, err := p.Backend.Status(wctx, taskID)
		var ae *AuthorizationError
		switch {
		case err != nil && wctx.Err() != nil:
			return nil, stopped()

		case errors.As(err, &ae):
			return nil, ae

		case err != nil:
			failures++
			p.Log.Warn().Err(err).Str("task_id", taskID).Int("attempt", failures).Msg("status query failed")
			if failures > p.Retries {
				return nil, asPollingError(taskID, err)
			}

		case st.Status == StatusCompleted:
			st.Progress = 100
			emit(st)
			return &Result{
				TaskID:      taskID,
				State:       StatusCompleted,
				Progress:    st.Progress,
				ArtifactURL: st.DownloadURL,
			}, nil

		case st.Status == StatusFailed:
			msg := st.Error
			if msg == "" {
				msg = "unknown error"
			}
			return nil, &JobFailedError{TaskID: taskID, Message: msg}

		case st.Status == StatusProcessing, st.Status == StatusUploaded, st.Status == StatusUploading:
			failures = 0
			emit(st)

		default:
			return nil, &PollingError{TaskID: taskID, Err: fmt.Errorf("unexpected status %q", st.Status)}
		}

		wait := time.NewTimer(interval)
		select {
		case <-wctx.Done():
			wait.Stop()
			return nil, stopped()
		case <-wait.C:
		}
	}
}

func asPollingError(taskID string, err error) error {
	var pe *PollingError
	if errors.As(err, &pe) {
		return pe
	}
	return &PollingError{TaskID: taskID, Err: err}
}
