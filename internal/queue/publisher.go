package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wa-dispatch/internal/config"
	"github.com/unclebandit/wa-dispatch/internal/model"
)

const (
	headerDelay      = "x-delay"
	headerRetryCount = "x-retry-count"

	confirmTimeout = 10 * time.Second
)

// DeclareTopology declares the delayed exchange and the send queue bound to it.
// The exchange type needs the rabbitmq_delayed_message_exchange plugin.
func DeclareTopology(ch *amqp.Channel, cfg config.QueueConfig) error {
	args := amqp.Table{"x-delayed-type": "direct"}
	if err := ch.ExchangeDeclare(cfg.Exchange, "x-delayed-message", true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.Queue, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.Queue, err)
	}
	return nil
}

// AMQPPublisher publishes dispatch jobs to a RabbitMQ delayed exchange with publisher confirms.
type AMQPPublisher struct {
	conn      *amqp.Connection
	cfg       config.QueueConfig
	log       zerolog.Logger
	mu        sync.Mutex
	now       func() time.Time
	batchSize int
}

func NewAMQPPublisher(conn *amqp.Connection, cfg config.QueueConfig, log zerolog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareTopology(ch, cfg); err != nil {
		return nil, err
	}
	return &AMQPPublisher{
		conn:      conn,
		cfg:       cfg,
		log:       log.With().Str("component", "amqp_publisher").Logger(),
		now:       time.Now,
		batchSize: cfg.BatchSize,
	}, nil
}

// Publish sends jobs in chunks. A failed chunk is counted and reported;
// chunks already confirmed stay queued.
func (p *AMQPPublisher) Publish(ctx context.Context, jobs []model.DispatchJob) (PublishResult, error) {
	var (
		res  PublishResult
		errs []error
	)
	for i, chunk := range Chunk(jobs, p.batchSize) {
		if err := ctx.Err(); err != nil {
			res.Failed += len(chunk)
			res.FailedChunks++
			errs = append(errs, err)
			continue
		}
		if err := p.publishChunk(chunk); err != nil {
			p.log.Error().Err(err).Int("chunk", i).Int("jobs", len(chunk)).Msg("Failed to publish chunk")
			res.Failed += len(chunk)
			res.FailedChunks++
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
			continue
		}
		res.Published += len(chunk)
	}
	return res, errors.Join(errs...)
}

func (p *AMQPPublisher) publishChunk(jobs []model.DispatchJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, len(jobs)))

	now := p.now()
	for _, job := range jobs {
		msg, err := NewPublishing(job, now, 0)
		if err != nil {
			return err
		}
		if err := ch.Publish(p.cfg.Exchange, p.cfg.Queue, false, false, msg); err != nil {
			return fmt.Errorf("failed to publish message %s: %w", job.MessageID, err)
		}
	}

	timeout := time.NewTimer(confirmTimeout)
	defer timeout.Stop()
	nacked := 0
	for received := 0; received < len(jobs); received++ {
		select {
		case c, ok := <-confirms:
			if !ok {
				return errors.New("channel closed before all confirms arrived")
			}
			if !c.Ack {
				nacked++
			}
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for publisher confirmations after %v", confirmTimeout)
		}
	}
	if nacked > 0 {
		return fmt.Errorf("broker rejected %d of %d messages", nacked, len(jobs))
	}
	return nil
}

// NewPublishing builds the AMQP message for a job. The message id is the
// message log id so the broker label matches the idempotency key.
func NewPublishing(job model.DispatchJob, now time.Time, retries int) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal job %s: %w", job.MessageID, err)
	}

	delay := time.Unix(job.NotBefore, 0).Sub(now).Milliseconds()
	if delay < 0 {
		delay = 0
	}
	headers := amqp.Table{headerDelay: delay}
	if retries > 0 {
		headers[headerRetryCount] = int32(retries)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.MessageID,
		Timestamp:    now,
		Type:         string(job.Handler),
		Headers:      headers,
		Body:         body,
	}, nil
}

var _ Publisher = (*AMQPPublisher)(nil)
