package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/queue"
	"github.com/unclebandit/wa-dispatch/internal/repository"
)

const (
	defaultDueLimit        = 50
	defaultPlanConcurrency = 4
)

// Planner fans a due campaign out into message log rows and queued dispatch jobs.
type Planner struct {
	Campaigns   repository.CampaignRepositoryInterface
	Logs        repository.MessageLogRepositoryInterface
	Publisher   queue.Publisher
	Delay       *DelayScheduler
	Log         zerolog.Logger
	Now         func() time.Time
	DueLimit    int
	Concurrency int
}

func NewPlanner(
	campaigns repository.CampaignRepositoryInterface,
	logs repository.MessageLogRepositoryInterface,
	publisher queue.Publisher,
	delay *DelayScheduler,
	log zerolog.Logger,
) *Planner {
	return &Planner{
		Campaigns:   campaigns,
		Logs:        logs,
		Publisher:   publisher,
		Delay:       delay,
		Log:         log.With().Str("component", "planner").Logger(),
		Now:         time.Now,
		DueLimit:    defaultDueLimit,
		Concurrency: defaultPlanConcurrency,
	}
}

type PlanResult struct {
	CampaignID    string `json:"campaign_id"`
	Planned       int    `json:"planned"`
	Published     int    `json:"published"`
	PublishErrors int    `json:"publish_errors"`
	FailedChunks  int    `json:"failed_chunks"`
}

type DueSummary struct {
	Due     int `json:"due"`
	Planned int `json:"planned"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ValidateCampaign reports every problem that would make planning impossible.
func ValidateCampaign(c *model.Campaign) error {
	var problems []string

	if len(c.Contacts) == 0 {
		problems = append(problems, "contacts list is empty")
	}
	for i, contact := range c.Contacts {
		if contact.Phone() == "" {
			problems = append(problems, fmt.Sprintf("contact %d has no phone number", i))
		}
	}
	if len(c.Templates) == 0 {
		problems = append(problems, "templates list is empty")
	}
	for i, t := range c.Templates {
		if strings.TrimSpace(t.Text) == "" && t.MediaURL == "" {
			problems = append(problems, fmt.Sprintf("template %d has neither text nor media", i))
		}
	}
	if len(c.Instances) == 0 {
		problems = append(problems, "instances list is empty")
	}
	for i, name := range c.Instances {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, fmt.Sprintf("instance %d has an empty name", i))
		}
	}
	if c.DelayMin < 1 {
		problems = append(problems, fmt.Sprintf("delay_min must be >= 1, got %d", c.DelayMin))
	}
	if c.DelayMax < c.DelayMin {
		problems = append(problems, fmt.Sprintf("delay_max (%d) must be >= delay_min (%d)", c.DelayMax, c.DelayMin))
	}

	if len(problems) > 0 {
		return &appErrors.ValidationError{Problems: problems}
	}
	return nil
}

// BuildPlan produces one queued row per (contact, template), contact-major.
// Each row is scheduled a fresh delay after the previous one, starting from start.
func BuildPlan(c *model.Campaign, start time.Time, delay *DelayScheduler) []*model.MessageLog {
	logs := make([]*model.MessageLog, 0, len(c.Contacts)*len(c.Templates))
	var offset time.Duration

	for i, contact := range c.Contacts {
		instance := c.Instances[i%len(c.Instances)]
		phone := contact.Phone()
		for _, tmpl := range c.Templates {
			content, values := RenderTemplateWithValues(tmpl.Text, contact)
			offset += delay.Next(c.DelayMin, c.DelayMax)

			logs = append(logs, &model.MessageLog{
				ID:           uuid.NewString(),
				TenantID:     c.TenantID,
				CampaignID:   c.ID,
				InstanceName: instance,
				Phone:        phone,
				Content:      content,
				MediaURL:     tmpl.MediaURL,
				MediaType:    tmpl.MediaType,
				Status:       model.MessageQueued,
				Failure:      model.FailureNone,
				Metadata:     model.Metadata{ProtectedValues: values},
				CreatedAt:    start,
				ScheduledFor: start.Add(offset),
			})
		}
	}
	return logs
}

// PlanCampaign validates, claims, persists and publishes one campaign.
// It returns ErrCampaignAlreadyClaimed when another run got the campaign first.
func (p *Planner) PlanCampaign(ctx context.Context, c *model.Campaign) (*PlanResult, error) {
	log := p.Log.With().Str("campaign_id", c.ID).Str("tenant_id", c.TenantID).Logger()

	if err := ValidateCampaign(c); err != nil {
		log.Warn().Err(err).Msg("Rejecting invalid campaign")
		if mErr := p.Campaigns.MarkFailed(ctx, c.ID, err.Error()); mErr != nil {
			log.Error().Err(mErr).Msg("Failed to mark campaign failed")
		}
		return nil, err
	}

	now := p.Now().UTC()
	won, err := p.Campaigns.Claim(ctx, c.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign %s: %w", c.ID, err)
	}
	if !won {
		return nil, appErrors.ErrCampaignAlreadyClaimed
	}

	logs := BuildPlan(c, now, p.Delay)
	if err := p.Logs.BulkInsert(ctx, logs); err != nil {
		diag := fmt.Sprintf("failed to persist message logs: %v", err)
		log.Error().Err(err).Int("messages", len(logs)).Msg("Aborting campaign before publishing")
		if mErr := p.Campaigns.MarkFailed(ctx, c.ID, diag); mErr != nil {
			log.Error().Err(mErr).Msg("Failed to mark campaign failed")
		}
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}

	handler := model.HandlerFor(c.AIRewrite)
	jobs := make([]model.DispatchJob, len(logs))
	for i, m := range logs {
		jobs[i] = model.JobFromLog(m, handler)
	}

	res, pubErr := p.Publisher.Publish(ctx, jobs)
	if pubErr != nil {
		log.Error().Err(pubErr).
			Int("published", res.Published).
			Int("failed", res.Failed).
			Msg("Some dispatch jobs were not queued")
	}

	if err := p.Campaigns.MarkScheduled(ctx, c.ID, res.Published, res.Failed); err != nil {
		return nil, fmt.Errorf("failed to mark campaign %s scheduled: %w", c.ID, err)
	}

	log.Info().Int("planned", len(logs)).Int("published", res.Published).Msg("Campaign scheduled")
	return &PlanResult{
		CampaignID:    c.ID,
		Planned:       len(logs),
		Published:     res.Published,
		PublishErrors: res.Failed,
		FailedChunks:  res.FailedChunks,
	}, nil
}

// ProcessDue plans every due campaign. One campaign failing does not stop the others.
func (p *Planner) ProcessDue(ctx context.Context) (*DueSummary, error) {
	due, err := p.Campaigns.ListDue(ctx, p.Now().UTC(), p.DueLimit)
	if err != nil {
		return nil, err
	}

	summary := &DueSummary{Due: len(due)}
	if len(due) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)
	for _, c := range due {
		c := c
		g.Go(func() error {
			_, err := p.PlanCampaign(gctx, c)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Planned++
			case errors.Is(err, appErrors.ErrCampaignAlreadyClaimed):
				summary.Skipped++
			default:
				summary.Failed++
				p.Log.Error().Err(err).Str("campaign_id", c.ID).Msg("Failed to plan campaign")
			}
			return nil
		})
	}
	_ = g.Wait()

	p.Log.Info().Int("due", summary.Due).Int("planned", summary.Planned).Int("failed", summary.Failed).Msg("Processed due campaigns")
	return summary, nil
}
