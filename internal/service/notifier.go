package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/repository"
	"github.com/unclebandit/wa-dispatch/internal/whatsapp"
)

const notifyTimeLayout = "02/01/2006 15:04"

// Notifier tells a tenant's staff numbers about completions and replies.
type Notifier struct {
	Instances   repository.InstanceRepositoryInterface
	Gateway     whatsapp.Gateway
	Log         zerolog.Logger
	Location    *time.Location
	Concurrency int
}

func NewNotifier(instances repository.InstanceRepositoryInterface, gateway whatsapp.Gateway, concurrency int, log zerolog.Logger) *Notifier {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.UTC
	}
	return &Notifier{
		Instances:   instances,
		Gateway:     gateway,
		Log:         log.With().Str("component", "notifier").Logger(),
		Location:    loc,
		Concurrency: concurrency,
	}
}

func (n *Notifier) NotifyCompletion(ctx context.Context, stats *model.CampaignStats) error {
	fallback := ""
	if len(stats.Instances) > 0 {
		fallback = stats.Instances[0]
	}
	return n.broadcast(ctx, stats.TenantID, fallback, FormatCompletionSummary(stats, n.Location))
}

// NotifyReply forwards a contact's reply to staff through the instance that messaged them.
func (n *Notifier) NotifyReply(ctx context.Context, m *model.MessageLog, reply string) error {
	text := fmt.Sprintf("💬 Nova resposta de +%s (instância %s)\n\n%s", m.Phone, m.InstanceName, reply)
	return n.broadcast(ctx, m.TenantID, m.InstanceName, text)
}

// broadcast sends text to every configured phone. A failed recipient is logged and skipped.
func (n *Notifier) broadcast(ctx context.Context, tenantID, fallbackInstance, text string) error {
	settings, err := n.Instances.GetNotificationSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load notification settings: %w", err)
	}
	if len(settings.Phones) == 0 {
		n.Log.Debug().Str("tenant_id", tenantID).Msg("No notification phones configured")
		return nil
	}

	name := settings.Instance
	if name == "" {
		name = fallbackInstance
	}
	if name == "" {
		return fmt.Errorf("no instance available to notify tenant %s", tenantID)
	}
	inst, err := n.Instances.GetByName(ctx, tenantID, name)
	if err != nil {
		return err
	}

	var g errgroup.Group
	if n.Concurrency > 0 {
		g.SetLimit(n.Concurrency)
	}
	for _, phone := range settings.Phones {
		phone := model.NormalizePhone(phone)
		if phone == "" {
			continue
		}
		g.Go(func() error {
			if _, err := n.Gateway.SendText(ctx, *inst, phone, text); err != nil {
				n.Log.Warn().Err(err).Str("tenant_id", tenantID).Str("phone", phone).Msg("Failed to notify staff phone")
			}
			return nil
		})
	}
	return g.Wait()
}

// FormatCompletionSummary renders the staff message for a finished campaign.
func FormatCompletionSummary(s *model.CampaignStats, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	instances := "-"
	if len(s.Instances) > 0 {
		instances = strings.Join(s.Instances, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Campanha \"%s\" concluída\n\n", s.Name)
	fmt.Fprintf(&b, "Total: %d\n", s.Total)
	fmt.Fprintf(&b, "Enviadas: %d\n", s.Sent)
	fmt.Fprintf(&b, "Falhas: %d\n", s.Failed)
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, "Canceladas: %d\n", s.Cancelled)
	}
	fmt.Fprintf(&b, "Instâncias: %s\n", instances)
	fmt.Fprintf(&b, "Início: %s\n", s.StartedAt.In(loc).Format(notifyTimeLayout))
	fmt.Fprintf(&b, "Fim: %s\n", s.CompletedAt.In(loc).Format(notifyTimeLayout))
	fmt.Fprintf(&b, "Duração: %s", s.CompletedAt.Sub(s.StartedAt).Round(time.Second))
	return b.String()
}

var _ CompletionNotifier = (*Notifier)(nil)
