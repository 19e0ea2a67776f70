package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wa-dispatch/internal/config"
	"github.com/unclebandit/wa-dispatch/internal/model"
)

// AMQPConsumer delivers jobs from the send queue to a Handler, one goroutine per delivery.
// Failed deliveries are republished through the delayed exchange with a retry counter.
type AMQPConsumer struct {
	conn        *amqp.Connection
	cfg         config.QueueConfig
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

func NewAMQPConsumer(conn *amqp.Connection, cfg config.QueueConfig, dispatch config.DispatchConfig, log zerolog.Logger) *AMQPConsumer {
	return &AMQPConsumer{
		conn:        conn,
		cfg:         cfg,
		maxAttempts: dispatch.MaxAttempts,
		backoff:     dispatch.RetryBackoff,
		log:         log.With().Str("component", "amqp_consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled or the channel closes, then waits for in-flight handlers.
func (c *AMQPConsumer) Run(ctx context.Context, h Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareTopology(ch, c.cfg); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	c.pubCh, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open retry channel: %w", err)
	}
	defer c.pubCh.Close()

	msgs, err := ch.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.Info().Str("queue", c.cfg.Queue).Int("prefetch", c.cfg.Prefetch).Msg("Waiting for dispatch jobs")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				c.handle(ctx, d, h)
			}(d)
		}
	}
}

func (c *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var job model.DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.MessageID == "" {
		c.log.Error().Err(err).Str("amqp_message_id", d.MessageId).Msg("Dropping malformed job")
		_ = d.Nack(false, false)
		return
	}

	log := c.log.With().Str("message_id", job.MessageID).Str("campaign_id", job.CampaignID).Logger()
	err := h(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempts := RetryCount(d.Headers) + 1
	if attempts >= c.maxAttempts {
		log.Error().Err(err).Int("attempts", attempts).Msg("Job permanently failed")
		_ = d.Ack(false)
		return
	}

	if rerr := c.republish(job, attempts); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to schedule retry, requeueing")
		_ = d.Nack(false, true)
		return
	}
	log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", c.backoff).Msg("Job failed, retry scheduled")
	_ = d.Ack(false)
}

func (c *AMQPConsumer) republish(job model.DispatchJob, attempts int) error {
	now := time.Now()
	job.NotBefore = now.Add(time.Duration(attempts) * c.backoff).Unix()
	msg, err := NewPublishing(job, now, attempts)
	if err != nil {
		return err
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.pubCh.Publish(c.cfg.Exchange, c.cfg.Queue, false, false, msg)
}

// RetryCount reads the x-retry-count header; missing or malformed means zero.
func RetryCount(headers amqp.Table) int {
	switch v := headers[headerRetryCount].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case uint8:
		return int(v)
	default:
		return 0
	}
}
