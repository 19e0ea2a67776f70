// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/queue"
	"github.com/unclebandit/wa-dispatch/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LogRepo      repository.MessageLogRepositoryInterface
	Publisher    queue.Publisher
	Delay        *DelayScheduler
	Completion   *CompletionDetector
	Log          zerolog.Logger
	Now          func() time.Time
}

type CreateCampaignInput struct {
	TenantID            string           `json:"tenant_id"`
	Name                string           `json:"name"`
	TargetAudience      string           `json:"target_audience"`
	CreativeDescription string           `json:"creative_description"`
	Contacts            []model.Contact  `json:"contacts"`
	Templates           []model.Template `json:"templates"`
	Instances           []string         `json:"instances"`
	DelayMin            int              `json:"delay_min"`
	DelayMax            int              `json:"delay_max"`
	AIRewrite           bool             `json:"ai_rewrite"`
	ScheduledAt         *string          `json:"scheduled_at"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

// RequeueResult reports how many entries went back to the queue.
type RequeueResult struct {
	CampaignID string `json:"campaign_id"`
	Requeued   int    `json:"requeued"`
	Published  int    `json:"published"`
	Failed     int    `json:"failed"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		TenantID:            strings.TrimSpace(in.TenantID),
		Name:                strings.TrimSpace(in.Name),
		TargetAudience:      in.TargetAudience,
		CreativeDescription: in.CreativeDescription,
		Contacts:            in.Contacts,
		Templates:           in.Templates,
		Instances:           in.Instances,
		DelayMin:            in.DelayMin,
		DelayMax:            in.DelayMax,
		AIRewrite:           in.AIRewrite,
		Status:              model.CampaignPending,
	}

	var problems []string
	if c.TenantID == "" {
		problems = append(problems, "tenant_id is required")
	}
	if c.Name == "" {
		problems = append(problems, "name is required")
	}
	if err := ValidateCampaign(c); err != nil {
		problems = append(problems, err.(*appErrors.ValidationError).Problems...)
	}

	if in.ScheduledAt != nil && *in.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			problems = append(problems, "scheduled_at must be RFC3339")
		} else {
			c.ScheduledAt = t.UTC()
		}
	}
	if len(problems) > 0 {
		return nil, &appErrors.ValidationError{Problems: problems}
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.LogRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message stats: %w", err)
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// RenderPreview renders one template of a campaign for one of its contacts.
// overrideTemplate, when non-blank, replaces the stored template text.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID string, contactIndex, templateIndex int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}

	if contactIndex < 0 || contactIndex >= len(campaign.Contacts) {
		return "", &appErrors.ValidationError{Problems: []string{fmt.Sprintf("contact index %d out of range", contactIndex)}}
	}

	var template string
	if templateIndex >= 0 && templateIndex < len(campaign.Templates) {
		template = campaign.Templates[templateIndex].Text
	}
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", &appErrors.ValidationError{Problems: []string{"template cannot be empty"}}
	}

	return RenderTemplate(template, campaign.Contacts[contactIndex]), nil
}

// Pause stops delivery. Jobs already queued are not purged; workers mark them paused.
func (s *CampaignService) Pause(ctx context.Context, campaignID string) error {
	return s.transition(ctx, campaignID, model.CampaignPaused,
		model.CampaignPending, model.CampaignProcessing, model.CampaignScheduled)
}

// Cancel is final. Entries already parked as paused are cancelled too.
func (s *CampaignService) Cancel(ctx context.Context, campaignID string) error {
	if err := s.transition(ctx, campaignID, model.CampaignCancelled,
		model.CampaignPending, model.CampaignProcessing, model.CampaignScheduled, model.CampaignPaused); err != nil {
		return err
	}

	paused, err := s.LogRepo.ListByStatus(ctx, campaignID, model.MessagePaused)
	if err != nil {
		return fmt.Errorf("failed to list paused messages: %w", err)
	}
	for _, m := range paused {
		if _, err := s.LogRepo.MarkHalted(ctx, m.ID, model.MessageCancelled); err != nil {
			return fmt.Errorf("failed to cancel message %s: %w", m.ID, err)
		}
	}
	return nil
}

// Resume restarts a paused campaign. A campaign that was never planned goes back to pending;
// otherwise every paused entry is rescheduled from now and queued again.
func (s *CampaignService) Resume(ctx context.Context, campaignID string) (*RequeueResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s campaign", appErrors.ErrInvalidTransition, c.Status)
	}

	result := &RequeueResult{CampaignID: campaignID}
	if c.StartedAt == nil {
		return result, s.transition(ctx, campaignID, model.CampaignPending, model.CampaignPaused)
	}
	if err := s.transition(ctx, campaignID, model.CampaignScheduled, model.CampaignPaused); err != nil {
		return nil, err
	}

	paused, err := s.LogRepo.ListByStatus(ctx, campaignID, model.MessagePaused)
	if err != nil {
		return nil, fmt.Errorf("failed to list paused messages: %w", err)
	}
	if len(paused) == 0 {
		// the last worker may have lost its completion update to the pause
		if s.Completion != nil {
			if _, err := s.Completion.Detect(ctx, campaignID, ""); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	now := s.Now().UTC()
	var offset time.Duration
	schedule := make(map[string]time.Time, len(paused))
	for _, m := range paused {
		offset += s.Delay.Next(c.DelayMin, c.DelayMax)
		m.ScheduledFor = now.Add(offset)
		schedule[m.ID] = m.ScheduledFor
	}
	if err := s.LogRepo.Requeue(ctx, schedule); err != nil {
		return nil, err
	}
	result.Requeued = len(paused)

	res, pubErr := s.publish(ctx, paused, model.HandlerFor(c.AIRewrite))
	result.Published, result.Failed = res.Published, res.Failed
	if pubErr != nil {
		s.Log.Error().Err(pubErr).Str("campaign_id", campaignID).Msg("Some resumed messages were not queued")
	}
	return result, nil
}

// Republish queues again every entry still waiting, for remediation after a failed publish.
// Duplicates are harmless: workers skip entries that are already done.
func (s *CampaignService) Republish(ctx context.Context, campaignID string) (*RequeueResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignScheduled {
		return nil, fmt.Errorf("%w: cannot republish a %s campaign", appErrors.ErrInvalidTransition, c.Status)
	}

	queued, err := s.LogRepo.ListByStatus(ctx, campaignID, model.MessageQueued)
	if err != nil {
		return nil, err
	}
	res, pubErr := s.publish(ctx, queued, model.HandlerFor(c.AIRewrite))
	return &RequeueResult{CampaignID: campaignID, Requeued: len(queued), Published: res.Published, Failed: res.Failed}, pubErr
}

func (s *CampaignService) publish(ctx context.Context, logs []*model.MessageLog, handler model.JobHandler) (queue.PublishResult, error) {
	jobs := make([]model.DispatchJob, len(logs))
	for i, m := range logs {
		jobs[i] = model.JobFromLog(m, handler)
	}
	return s.Publisher.Publish(ctx, jobs)
}

func (s *CampaignService) transition(ctx context.Context, campaignID string, to model.CampaignStatus, from ...model.CampaignStatus) error {
	ok, err := s.CampaignRepo.TransitionStatus(ctx, campaignID, to, from...)
	if err != nil {
		return err
	}
	if ok {
		s.Log.Info().Str("campaign_id", campaignID).Str("status", string(to)).Msg("Campaign status changed")
		return nil
	}

	current, err := s.CampaignRepo.GetStatus(ctx, campaignID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", appErrors.ErrInvalidTransition, current, to)
}
