// Package simulator runs the mock enhancement: a job record walks through fixed
// progress checkpoints on a worker pool, detached from the request that started it.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidiox/job"
	"vidiox/lease"
)

// Checkpoints are the progress values written, one per step delay. The last one
// completes the job.
var Checkpoints = []int{10, 25, 45, 65, 80, 95, 100}

const (
	DefaultStepDelay = 2 * time.Second
	defaultQueueSize = 100
	leaseSlack       = 30 * time.Second
	failWriteTimeout = 5 * time.Second
)

var (
	ErrQueueFull = errors.New("simulator queue is full")
	ErrLeased    = errors.New("job is owned by another runner")
)

type Options struct {
	Concurrency int
	StepDelay   time.Duration
	// BaseURL prefixes result URLs: {BaseURL}/outputs/{stored filename}.
	BaseURL   string
	QueueSize int
}

type Manager struct {
	store     job.Store
	locker    lease.Locker
	log       zerolog.Logger
	baseURL   string
	stepDelay time.Duration

	queue          chan string
	concurrencySem chan struct{}
	wg             sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewManager(store job.Store, locker lease.Locker, opts Options, log zerolog.Logger) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.StepDelay < 0 {
		opts.StepDelay = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Manager{
		store:          store,
		locker:         locker,
		log:            log.With().Str("component", "simulator").Logger(),
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		stepDelay:      opts.StepDelay,
		queue:          make(chan string, opts.QueueSize),
		concurrencySem: make(chan struct{}, opts.Concurrency),
		sleep:          sleepContext,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.log.Info().Int("concurrency", cap(m.concurrencySem)).Dur("step_delay", m.stepDelay).Msg("simulator started")
	m.wg.Add(1)
	go m.workerLoop(ctx)
}

// Wait blocks until the worker loop and every in-flight run have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// workerLoop pulls job ids from the queue and runs them
func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Int("queued", len(m.queue)).Msg("worker loop shutting down")
			return
		case id := <-m.queue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			m.wg.Add(1)
			go func(id string) {
				defer m.wg.Done()
				defer func() { <-m.concurrencySem }()
				if err := m.Run(ctx, id); err != nil && !errors.Is(err, ErrLeased) {
					m.log.Warn().Err(err).Str("job_id", id).Msg("simulation ended with error")
				}
			}(id)
		}
	}
}

// Dispatch queues a processing job for simulation and returns immediately. The
// run uses the manager's context, not ctx.
func (m *Manager) Dispatch(ctx context.Context, jobID string) error {
	select {
	case m.queue <- jobID:
		m.log.Debug().Str("job_id", jobID).Msg("job queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Run simulates jobID synchronously while holding its runner lease. Jobs that are
// already terminal are left alone, so redelivered messages are harmless.
func (m *Manager) Run(ctx context.Context, jobID string) error {
	ttl := time.Duration(len(Checkpoints))*m.stepDelay + leaseSlack
	token, ok, err := m.locker.Acquire(ctx, jobID, ttl)
	if err != nil {
		return fmt.Errorf("acquire runner lease: %w", err)
	}
	if !ok {
		m.log.Info().Str("job_id", jobID).Msg("job already has a runner, skipping")
		return ErrLeased
	}
	defer func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), jobID, token); err != nil {
			m.log.Warn().Err(err).Str("job_id", jobID).Msg("release runner lease")
		}
	}()

	j, err := m.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		m.log.Info().Str("job_id", jobID).Str("status", string(j.Status)).Msg("job already finished")
		return nil
	}
	if j.Status != job.StatusProcessing {
		err := fmt.Errorf("%w: job %s is %s", job.ErrInvalidTransition, jobID, j.Status)
		m.fail(ctx, jobID, err)
		return err
	}

	m.log.Info().Str("job_id", jobID).Msg("processing job")
	start := time.Now()
	if err := m.simulate(ctx, j); err != nil {
		m.fail(ctx, jobID, err)
		return err
	}
	m.log.Info().Str("job_id", jobID).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}

func (m *Manager) simulate(ctx context.Context, j *job.Job) error {
	for _, p := range Checkpoints {
		if err := m.sleep(ctx, m.stepDelay); err != nil {
			return fmt.Errorf("simulation interrupted: %w", err)
		}
		if err := m.step(ctx, j.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// step writes one checkpoint from a fresh read of the record.
func (m *Manager) step(ctx context.Context, id string, progress int) error {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	now := m.now()
	if progress < 100 {
		err = j.Advance(progress, now)
	} else {
		err = j.Complete(m.resultURL(j), resultSize(j.SourceSize), resultResolution(j.Settings), now)
	}
	if err != nil {
		return err
	}
	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("write progress %d: %w", progress, err)
	}
	m.log.Debug().Str("job_id", id).Int("progress", progress).Msg("checkpoint written")
	return nil
}

// fail records cause on the job. It uses its own deadline so shutdown still lands
// the failure.
func (m *Manager) fail(ctx context.Context, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	j, err := m.store.Get(ctx, id)
	if err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("load job to record failure")
		return
	}
	if err := j.Fail(cause.Error(), m.now()); err != nil {
		// already terminal
		return
	}
	if err := m.store.Update(ctx, j); err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("record failure")
		return
	}
	m.log.Warn().Str("job_id", id).Str("error", j.Error).Msg("job failed")
}

func (m *Manager) resultURL(j *job.Job) string {
	return m.baseURL + "/outputs/" + url.PathEscape(j.SourceKey)
}

func resultSize(sourceSize int64) int64 {
	return sourceSize * 3 / 2
}

func resultResolution(s job.Settings) string {
	if s.Resolution == "" {
		return "4K"
	}
	return strings.ToUpper(s.Resolution)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
