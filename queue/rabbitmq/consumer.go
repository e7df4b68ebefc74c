package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const attemptHeader = "x-attempt"

// Handler processes one job. A nil return acks the message.
type Handler func(ctx context.Context, jobID string) error

type ConsumerOptions struct {
	Concurrency int
	// MaxAttempts bounds deliveries of a failing message before it goes to the DLQ.
	MaxAttempts int
	RetryDelay  time.Duration
}

type Consumer struct {
	mu    sync.Mutex // guards publishes on ch
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions
	log   zerolog.Logger
}

func NewConsumer(url, queue string, opts ConsumerOptions, log zerolog.Logger) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		conn:  conn,
		ch:    ch,
		queue: queue,
		opts:  opts,
		log:   log.With().Str("component", "consumer").Str("queue", queue).Logger(),
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDead
)

// decide runs handle for one message body and says how to settle it.
func decide(ctx context.Context, body []byte, attempt, maxAttempts int, handle Handler) (string, outcome, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", outcomeDead, fmt.Errorf("bad message: %w", err)
	}
	if m.JobID == "" {
		return "", outcomeDead, errors.New("bad message: empty job_id")
	}
	if err := handle(ctx, m.JobID); err != nil {
		if attempt < maxAttempts {
			return m.JobID, outcomeRetry, err
		}
		return m.JobID, outcomeDead, err
	}
	return m.JobID, outcomeAck, nil
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 1
}

// Run consumes until ctx is done or the broker closes the delivery channel.
// Work in flight is finished before Run returns.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	// strict concurrency control
	if err := c.ch.Qos(c.opts.Concurrency, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info().Int("concurrency", c.opts.Concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.settle(ctx, workerID, d, handle)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	err = pump(ctx, msgs, jobs)
	if err == nil {
		c.log.Info().Msg("worker shutting down")
	}
	return err
}

// pump feeds deliveries to the pool until ctx is done. A delivery still held
// when ctx ends is left unacked, so the broker redelivers it.
func pump(ctx context.Context, msgs <-chan amqp.Delivery, jobs chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Consumer) settle(ctx context.Context, workerID int, d amqp.Delivery, handle Handler) {
	attempt := attemptOf(d)
	start := time.Now()
	jobID, out, err := decide(ctx, d.Body, attempt, c.opts.MaxAttempts, handle)
	log := c.log.With().Int("worker", workerID).Str("job_id", jobID).Int("attempt", attempt).Dur("took", time.Since(start)).Logger()

	switch out {
	case outcomeAck:
		if err := d.Ack(false); err != nil {
			log.Warn().Err(err).Msg("ack failed")
		}
	case outcomeRetry:
		log.Warn().Err(err).Msg("job failed, scheduling retry")
		if perr := c.publishRetry(ctx, d.Body, attempt+1); perr != nil {
			log.Error().Err(perr).Msg("retry publish failed, dead-lettering")
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	case outcomeDead:
		log.Error().Err(err).Msg("job dead-lettered")
		_ = d.Nack(false, false)
	}
}

func (c *Consumer) publishRetry(ctx context.Context, body []byte, attempt int) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(cctx, "", retryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
	})
}
