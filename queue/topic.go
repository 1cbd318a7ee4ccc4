package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"telegram-audio-bot/models"
	"telegram-audio-bot/utils"
)

// TopicQueue publishes jobs to a Redis Pub/Sub channel. Fan-out,
// fire-and-forget: every subscriber receives every job, nothing is
// persisted and there is no dedup window.
type TopicQueue struct {
	rdb     redis.UniversalClient
	channel string
	logger  *utils.Logger
}

func NewTopicQueue(rdb redis.UniversalClient, channel string, logger *utils.Logger) *TopicQueue {
	return &TopicQueue{rdb: rdb, channel: channel, logger: logger}
}

func (q *TopicQueue) Enqueue(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.rdb.Publish(ctx, q.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s job: %w", job.Kind, err)
	}
	q.logger.WithJobID(job.ID).
		WithField("channel", q.channel).
		WithField("kind", job.Kind).
		Debug("Job published")
	return nil
}

// TopicConsumer subscribes to a Pub/Sub channel and hands each decoded
// job to the handler. Handler failures are logged only; a topic has no
// redelivery.
type TopicConsumer struct {
	rdb     redis.UniversalClient
	channel string
	handler Handler
	logger  *utils.Logger
}

func NewTopicConsumer(rdb redis.UniversalClient, channel string, handler Handler, logger *utils.Logger) *TopicConsumer {
	return &TopicConsumer{rdb: rdb, channel: channel, handler: handler, logger: logger}
}

func (c *TopicConsumer) Start(ctx context.Context) error {
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer sub.Close()

	c.logger.WithComponent("queue").
		WithField("channel", c.channel).
		Info("Topic consumer starting")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("channel", c.channel).Info("Topic consumer stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var job models.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				c.logger.WithError(err).WithField("channel", c.channel).Error("Dropping malformed topic message")
				continue
			}
			if err := c.handler.Handle(ctx, &job); err != nil {
				c.logger.WithError(err).
					WithJobID(job.ID).
					WithField("kind", job.Kind).
					Error("Job handler failed")
			}
		}
	}
}
