package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/ai"
	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/repository"
	"github.com/unclebandit/wa-dispatch/internal/whatsapp"
)

var ErrLeaseHeld = errors.New("message is being processed by another worker")

// Lease serializes concurrent deliveries of the same message.
type Lease interface {
	Acquire(ctx context.Context, key string) (release func(context.Context), acquired bool, err error)
}

// Outcome tells the queue what happened to one delivery.
// Retry is true only when redelivering may help.
type Outcome struct {
	Status            model.MessageStatus `json:"status,omitempty"`
	ProviderMessageID string              `json:"provider_message_id,omitempty"`
	NewlySent         bool                `json:"newly_sent"`
	Duplicate         bool                `json:"duplicate"`
	Retry             bool                `json:"retry"`
}

// MessageWorker delivers one dispatch job. Safe to call any number of times for the same job.
type MessageWorker struct {
	Campaigns   repository.CampaignRepositoryInterface
	Logs        repository.MessageLogRepositoryInterface
	Instances   repository.InstanceRepositoryInterface
	Gateway     whatsapp.Gateway
	Paraphraser ai.Paraphraser
	Completion  *CompletionDetector
	Lease       Lease
	Log         zerolog.Logger
	Now         func() time.Time
}

func NewMessageWorker(
	campaigns repository.CampaignRepositoryInterface,
	logs repository.MessageLogRepositoryInterface,
	instances repository.InstanceRepositoryInterface,
	gateway whatsapp.Gateway,
	paraphraser ai.Paraphraser,
	notifier CompletionNotifier,
	lease Lease,
	log zerolog.Logger,
) *MessageWorker {
	log = log.With().Str("component", "message_worker").Logger()
	return &MessageWorker{
		Campaigns:   campaigns,
		Logs:        logs,
		Instances:   instances,
		Gateway:     gateway,
		Paraphraser: paraphraser,
		Completion: &CompletionDetector{
			Campaigns: campaigns,
			Logs:      logs,
			Notifier:  notifier,
			Log:       log,
			Now:       time.Now,
		},
		Lease: lease,
		Log:   log,
		Now:   time.Now,
	}
}

// Handle adapts Process to a queue handler: only retryable outcomes are redelivered.
func (w *MessageWorker) Handle(ctx context.Context, job model.DispatchJob) error {
	out, err := w.Process(ctx, job)
	if out.Retry {
		return err
	}
	return nil
}

func (w *MessageWorker) Process(ctx context.Context, job model.DispatchJob) (Outcome, error) {
	log := w.Log.With().
		Str("message_id", job.MessageID).
		Str("campaign_id", job.CampaignID).
		Str("instance", job.InstanceName).
		Logger()

	inst, err := w.Instances.GetByName(ctx, job.TenantID, job.InstanceName)
	if err != nil {
		if !appErrors.IsNotFound(err) {
			return Outcome{Retry: true}, fmt.Errorf("failed to resolve instance: %w", err)
		}
		log.Error().Err(err).Msg("No credential for instance, giving up")
		if mErr := w.Logs.MarkFailed(ctx, job.MessageID, model.FailurePermanent, err.Error(), model.Metadata{}); mErr != nil {
			return Outcome{Retry: true}, fmt.Errorf("failed to record missing credential: %w", mErr)
		}
		w.detect(ctx, log, job)
		return Outcome{Status: model.MessageFailed}, err
	}

	status, err := w.Campaigns.GetStatus(ctx, job.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return Outcome{}, err
		}
		return Outcome{Retry: true}, fmt.Errorf("failed to read campaign status: %w", err)
	}
	if status.Halted() {
		halted := model.MessageStatus(status)
		if _, err := w.Logs.MarkHalted(ctx, job.MessageID, halted); err != nil {
			return Outcome{Retry: true}, fmt.Errorf("failed to mark message %s: %w", halted, err)
		}
		log.Info().Str("campaign_status", string(status)).Msg("Campaign halted, message not sent")
		return Outcome{Status: halted}, nil
	}

	release, acquired, err := w.Lease.Acquire(ctx, job.MessageID)
	if err != nil {
		return Outcome{Retry: true}, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		return Outcome{Retry: true}, ErrLeaseHeld
	}
	defer release(context.WithoutCancel(ctx))

	entry, err := w.Logs.GetByID(ctx, job.MessageID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Error().Msg("Job has no message log, dropping")
			return Outcome{}, err
		}
		return Outcome{Retry: true}, fmt.Errorf("failed to load message: %w", err)
	}
	if entry.Done() {
		log.Debug().Str("status", string(entry.Status)).Msg("Already processed, skipping send")
		if err := w.detect(ctx, log, job); err != nil {
			return Outcome{Status: entry.Status, Duplicate: true, Retry: true}, err
		}
		return Outcome{Status: entry.Status, ProviderMessageID: entry.ProviderMessageID, Duplicate: true}, nil
	}

	content, meta := entry.Content, entry.Metadata
	if job.Handler == model.HandlerSendAI && strings.TrimSpace(content) != "" {
		content, meta = w.paraphrase(ctx, log, content, meta)
	}

	res, sendErr := w.send(ctx, *inst, entry, content)
	if sendErr != nil {
		log.Warn().Err(sendErr).Msg("Send failed")
		if err := w.Logs.MarkFailed(ctx, entry.ID, model.FailureRetryable, sendErr.Error(), meta); err != nil {
			log.Error().Err(err).Msg("Failed to record send failure")
		}
		w.detect(ctx, log, job)
		return Outcome{Status: model.MessageFailed, Retry: true}, sendErr
	}

	newly, err := w.Logs.MarkSent(ctx, entry.ID, repository.SendRecord{
		ProviderMessageID: res.MessageID,
		ProviderResponse:  res.Raw,
		Content:           content,
		Metadata:          meta,
		SentAt:            w.Now().UTC(),
	})
	if err != nil {
		// The provider accepted the message; redelivery would send it twice.
		log.Error().Err(err).Str("provider_message_id", res.MessageID).Msg("Sent but failed to record")
		return Outcome{Status: model.MessageSent, ProviderMessageID: res.MessageID}, fmt.Errorf("failed to record sent message: %w", err)
	}

	out := Outcome{Status: model.MessageSent, ProviderMessageID: res.MessageID, NewlySent: newly}
	detectErr := w.detect(ctx, log, job)
	if newly {
		if err := w.Campaigns.IncrementSent(ctx, job.CampaignID); err != nil {
			log.Error().Err(err).Msg("Failed to increment sent counter")
		}
	}
	if detectErr != nil {
		out.Retry = true
		return out, detectErr
	}

	log.Info().Str("provider_message_id", res.MessageID).Bool("ai", meta.AISucceeded).Msg("Message sent")
	return out, nil
}

func (w *MessageWorker) send(ctx context.Context, inst model.Instance, m *model.MessageLog, content string) (*whatsapp.SendResult, error) {
	if m.MediaURL != "" {
		return w.Gateway.SendMedia(ctx, inst, m.Phone, m.MediaURL, m.MediaType, content)
	}
	return w.Gateway.SendText(ctx, inst, m.Phone, content)
}

// paraphrase never fails the send; on any problem the original text goes out.
func (w *MessageWorker) paraphrase(ctx context.Context, log zerolog.Logger, content string, meta model.Metadata) (string, model.Metadata) {
	meta.AIAttempted = true
	out, err := rewriteProtected(ctx, w.Paraphraser, content, meta.ProtectedValues)
	if err != nil {
		log.Warn().Err(err).Msg("Paraphrase failed, sending original")
		meta.AISucceeded = false
		meta.AIError = err.Error()
		return content, meta
	}
	meta.AISucceeded = true
	meta.AIModel = out.Model
	meta.AIError = ""
	meta.OriginalContent = content
	return out.Text, meta
}

func (w *MessageWorker) detect(ctx context.Context, log zerolog.Logger, job model.DispatchJob) error {
	if _, err := w.Completion.Detect(ctx, job.CampaignID, job.MessageID); err != nil {
		log.Error().Err(err).Msg("Completion detection failed")
		return err
	}
	return nil
}
