package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/repository"
)

// ReplyNotifier forwards a contact reply to staff.
type ReplyNotifier interface {
	NotifyReply(ctx context.Context, m *model.MessageLog, reply string) error
}

// InboundService records contact replies against the message that prompted them.
type InboundService struct {
	Logs     repository.MessageLogRepositoryInterface
	Notifier ReplyNotifier
	Log      zerolog.Logger
	Now      func() time.Time
}

// HandleReply stamps responded_at on the latest sent message to phone and tells staff.
// Only the first reply to a message is forwarded; nil means no campaign message matched.
func (s *InboundService) HandleReply(ctx context.Context, tenantID, instance, phone, text string) (*model.MessageLog, error) {
	m, err := s.Logs.MarkResponded(ctx, tenantID, instance, model.NormalizePhone(phone), s.Now().UTC())
	if err != nil || m == nil {
		return nil, err
	}

	if err := s.Notifier.NotifyReply(ctx, m, text); err != nil {
		s.Log.Warn().Err(err).Str("message_id", m.ID).Msg("Failed to forward reply")
	}
	return m, nil
}
