package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/repository"
)

// CompletionNotifier is told about a campaign once, when it completes.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, stats *model.CampaignStats) error
}

// CompletionDetector closes a campaign when its last pending message is processed.
type CompletionDetector struct {
	Campaigns repository.CampaignRepositoryInterface
	Logs      repository.MessageLogRepositoryInterface
	Notifier  CompletionNotifier
	Log       zerolog.Logger
	Now       func() time.Time
}

// Detect returns true only for the caller whose conditional update completed the campaign.
// Only that caller notifies.
func (d *CompletionDetector) Detect(ctx context.Context, campaignID, messageID string) (bool, error) {
	pending, err := d.Logs.CountPendingSiblings(ctx, campaignID, messageID)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}

	won, err := d.Campaigns.TryComplete(ctx, campaignID, d.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign %s: %w", campaignID, err)
	}
	if !won {
		return false, nil
	}

	log := d.Log.With().Str("campaign_id", campaignID).Logger()
	stats, err := d.Logs.CompletionStats(ctx, campaignID)
	if err != nil {
		log.Error().Err(err).Msg("Campaign completed but stats are unavailable, skipping notification")
		return true, nil
	}
	log.Info().Int("total", stats.Total).Int("sent", stats.Sent).Int("failed", stats.Failed).Msg("Campaign completed")

	if err := d.Notifier.NotifyCompletion(ctx, stats); err != nil {
		log.Error().Err(err).Msg("Failed to send completion notification")
	}
	return true, nil
}
