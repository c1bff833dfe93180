package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sourcegraph/conc/pool"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/config"
)

// jobHandler defines the interface for handling queued job messages.
type jobHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// messageClient is the part of the Kafka client the consume loop uses.
type messageClient interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Consumer represents a Kafka consumer along with its configuration
// and the handler that processes job messages.
type Consumer struct {
	Client     *wbfkafka.Consumer
	client     messageClient
	jobHandler jobHandler
	cfg        *config.Kafka
	strategy   retry.Strategy
	workers    int

	offsets  *offsetTracker
	commitMu sync.Mutex
}

// New creates a new Consumer.
// - cfg: Kafka configuration struct
// - s: retry strategy
// - h: handler for job messages
// - workers: how many jobs may run at once
func New(
	cfg *config.Kafka,
	s retry.Strategy,
	h jobHandler,
	workers int,
) *Consumer {
	consumer := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	if workers < 1 {
		workers = 1
	}

	return &Consumer{
		Client:     consumer,
		client:     consumer,
		jobHandler: h,
		cfg:        cfg,
		strategy:   s,
		workers:    workers,
		offsets:    newOffsetTracker(),
	}
}

// Consume continuously fetches messages from Kafka and hands each one to a
// bounded pool of workers. Offsets are committed per partition in offset
// order, after the handler returned successfully for the message and for
// every earlier one. On context cancellation it stops fetching and waits
// for running jobs to finish.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	workers := pool.New().WithMaxGoroutines(c.workers)
	defer workers.Wait()

	zlog.Logger.Info().
		Str("topic", c.cfg.Topic).
		Int("workers", c.workers).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		// Fetch a message from Kafka with retries.
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			// Log error and retry after a short backoff.
			zlog.Logger.Err(err).Msg("failed to fetch message")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		c.offsets.start(msg)

		// Blocks while all workers are busy.
		workers.Go(func() {
			c.handle(ctx, msg)
		})
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	err := retry.Do(func() error {
		return c.jobHandler.Handle(ctx, msg)
	}, c.strategy)
	if err != nil {
		// The offset stays in flight, so the partition is not committed past
		// it and the message is redelivered after a restart.
		zlog.Logger.Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Str("message", string(msg.Value)).
			Msg("failed to process job, holding partition offset")
		return
	}

	zlog.Logger.Info().
		Int64("offset", msg.Offset).
		Str("message", string(msg.Value)).
		Msg("message handled successfully")

	ready, ok := c.offsets.finish(msg)
	if !ok {
		return
	}
	c.commit(ctx, ready)
}

// commit stores the partition offset of msg unless a later one was already
// committed.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if c.offsets.stale(msg) {
		return
	}

	// Commit even after shutdown began; the job itself has finished.
	commitCtx := context.WithoutCancel(ctx)
	err := retry.Do(func() error {
		return c.client.Commit(commitCtx, msg)
	}, c.strategy)
	if err != nil {
		zlog.Logger.Err(err).Int64("offset", msg.Offset).Msg("failed to commit message after retries")
		return
	}

	c.offsets.committed(msg)
}
