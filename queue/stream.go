package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"telegram-audio-bot/models"
	"telegram-audio-bot/utils"
)

// StreamQueue appends jobs to a Redis Stream. Deduplication uses
// SET NX on the job's dedup key: a second enqueue of the same logical
// request inside the window is dropped and reported as ErrDuplicateJob.
type StreamQueue struct {
	rdb         redis.UniversalClient
	stream      string
	maxLen      int64
	dedupWindow time.Duration
	logger      *utils.Logger
}

func NewStreamQueue(rdb redis.UniversalClient, stream string, dedupWindow time.Duration, logger *utils.Logger) *StreamQueue {
	return &StreamQueue{
		rdb:         rdb,
		stream:      stream,
		maxLen:      10000,
		dedupWindow: dedupWindow,
		logger:      logger,
	}
}

func (q *StreamQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.DedupKey != "" && q.dedupWindow > 0 {
		fresh, err := q.rdb.SetNX(ctx, "dedup:"+job.DedupKey, job.ID, q.dedupWindow).Result()
		if err != nil {
			return fmt.Errorf("dedup check failed: %w", err)
		}
		if !fresh {
			q.logger.WithJobID(job.ID).
				WithField("dedup_key", job.DedupKey).
				Info("Duplicate job within dedup window, dropping")
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.DedupKey)
		}
	}

	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: Values(job),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.Kind, err)
	}

	q.logger.WithJobID(job.ID).
		WithField("stream", q.stream).
		WithField("kind", job.Kind).
		WithChatID(job.ChatID).
		Debug("Job enqueued")
	return nil
}

// StreamConsumer reads one stream through a consumer group. Messages
// are acknowledged only after the handler succeeds; unacknowledged
// entries are adopted from dead consumers via XAUTOCLAIM at startup,
// giving at-least-once delivery.
type StreamConsumer struct {
	rdb      redis.UniversalClient
	stream   string
	group    string
	consumer string
	block    time.Duration
	handler  Handler
	logger   *utils.Logger
}

func NewStreamConsumer(rdb redis.UniversalClient, stream, group, consumer string, handler Handler, logger *utils.Logger) *StreamConsumer {
	return &StreamConsumer{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    5 * time.Second,
		handler:  handler,
		logger:   logger,
	}
}

func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	// BUSYGROUP means the group already exists
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	c.logger.WithComponent("queue").
		WithField("stream", c.stream).
		WithField("group", c.group).
		WithField("consumer", c.consumer).
		Info("Stream consumer starting")

	c.autoClaim(ctx)

	for {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    c.block,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				c.logger.WithField("stream", c.stream).Info("Stream consumer stopping")
				return nil
			}
			c.logger.WithError(err).WithField("stream", c.stream).Warn("Stream read failed")
			continue
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				c.handle(ctx, m)
			}
		}
	}
}

// autoClaim adopts pending entries left behind by consumers that died
// before acknowledging, so redelivery happens after a crash.
func (c *StreamConsumer) autoClaim(ctx context.Context) {
	next := "0-0"
	minIdle := 30 * time.Second
	if c.block > 0 && c.block*6 > minIdle {
		minIdle = c.block * 6
	}

	for {
		msgs, start, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			c.handle(ctx, m)
		}
		next = start
	}
}

func (c *StreamConsumer) handle(ctx context.Context, m redis.XMessage) {
	job, err := FromValues(m.Values)
	if err != nil {
		// Malformed messages can never succeed; ack to drop them.
		c.logger.WithError(err).WithField("message_id", m.ID).Error("Dropping malformed queue message")
		c.rdb.XAck(ctx, c.stream, c.group, m.ID)
		return
	}

	if err := c.handler.Handle(ctx, job); err != nil {
		// Leave the message pending for redelivery via autoClaim.
		c.logger.WithError(err).
			WithJobID(job.ID).
			WithField("kind", job.Kind).
			Error("Job handler failed, leaving message pending")
		return
	}

	c.rdb.XAck(ctx, c.stream, c.group, m.ID)
}
