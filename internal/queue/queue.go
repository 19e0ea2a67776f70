package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/model"
)

// MaxBatchSize is the largest batch the delayed queue accepts in one call.
const MaxBatchSize = 100

// Publisher hands dispatch jobs to a delayed at-least-once queue.
type Publisher interface {
	Publish(ctx context.Context, jobs []model.DispatchJob) (PublishResult, error)
}

// Handler processes one delivery. A non-nil error asks the queue to redeliver.
type Handler func(ctx context.Context, job model.DispatchJob) error

// PublishResult counts jobs per outcome. Chunks that fail are not rolled back.
type PublishResult struct {
	Published    int
	Failed       int
	FailedChunks int
}

// Chunk splits jobs into slices of at most size elements, preserving order.
func Chunk(jobs []model.DispatchJob, size int) [][]model.DispatchJob {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	var chunks [][]model.DispatchJob
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		chunks = append(chunks, jobs[start:end])
	}
	return chunks
}

// InMemoryQueue is a single-process delayed queue with bounded retry.
// It honours NotBefore and redelivers failed jobs after a linear backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers []Handler
	closed   bool

	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var ErrQueueClosed = errors.New("queue closed")

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(maxAttempts int, backoff time.Duration, log zerolog.Logger) *InMemoryQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log.With().Str("component", "memory_queue").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe adds a handler; every published job is delivered to each handler.
func (q *InMemoryQueue) Subscribe(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, h)
}

func (q *InMemoryQueue) Publish(ctx context.Context, jobs []model.DispatchJob) (PublishResult, error) {
	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers...)
	closed := q.closed
	q.mu.Unlock()

	if closed {
		return PublishResult{Failed: len(jobs), FailedChunks: len(Chunk(jobs, MaxBatchSize))}, ErrQueueClosed
	}
	if len(handlers) == 0 {
		return PublishResult{Failed: len(jobs), FailedChunks: len(Chunk(jobs, MaxBatchSize))}, fmt.Errorf("no subscribers for dispatch jobs")
	}

	for _, job := range jobs {
		for _, h := range handlers {
			q.wg.Add(1)
			go q.processJob(h, job)
		}
	}
	return PublishResult{Published: len(jobs)}, nil
}

// processJob waits for NotBefore, then runs the handler until it succeeds or attempts run out.
func (q *InMemoryQueue) processJob(h Handler, job model.DispatchJob) {
	defer q.wg.Done()

	if !q.sleep(time.Until(time.Unix(job.NotBefore, 0))) {
		return
	}

	log := q.log.With().Str("message_id", job.MessageID).Str("campaign_id", job.CampaignID).Logger()
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		err := h(q.ctx, job)
		if err == nil {
			return
		}
		if attempt == q.maxAttempts {
			log.Error().Err(err).Int("attempts", attempt).Msg("Job permanently failed")
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Job failed, retrying")
		if !q.sleep(time.Duration(attempt) * q.backoff) {
			return
		}
	}
}

func (q *InMemoryQueue) sleep(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// Close drops jobs still waiting for their delivery time and waits for running handlers.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

var _ Publisher = (*InMemoryQueue)(nil)
