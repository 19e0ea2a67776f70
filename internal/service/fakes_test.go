package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/queue"
	"github.com/unclebandit/wa-dispatch/internal/repository"
)

// fakeStore is an in-memory datastore. Every method holds the lock for its
// whole body, so conditional updates behave like single SQL statements.
type fakeStore struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	logs      map[string]*model.MessageLog
	instances map[string]model.Instance
	settings  map[string]*model.NotificationSettings

	bulkErr        error
	completeWrites int
	sendCounter    map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns:   map[string]*model.Campaign{},
		logs:        map[string]*model.MessageLog{},
		instances:   map[string]model.Instance{},
		settings:    map[string]*model.NotificationSettings{},
		sendCounter: map[string]int{},
	}
}

func (s *fakeStore) addCampaign(c *model.Campaign) *model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignPending
	}
	s.campaigns[c.ID] = c
	return c
}

func (s *fakeStore) addLog(m *model.MessageLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Failure == "" {
		m.Failure = model.FailureNone
	}
	s.logs[m.ID] = m
}

func (s *fakeStore) addInstance(tenantID, name, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[tenantID+"/"+name] = model.Instance{TenantID: tenantID, Name: name, APIKey: key}
}

func (s *fakeStore) campaign(id string) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *fakeStore) log(id string) model.MessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.logs[id]
}

func (s *fakeStore) logsOf(campaignID string) []*model.MessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.MessageLog
	for _, m := range s.logs {
		if m.CampaignID == campaignID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

// ====================== campaigns ======================

type fakeCampaigns struct{ *fakeStore }

func (f fakeCampaigns) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	f.addCampaign(c)
	return nil
}

func (f fakeCampaigns) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (f fakeCampaigns) ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*model.Campaign
	for _, c := range f.campaigns {
		if (tenantID == "" || c.TenantID == tenantID) && (status == "" || string(c.Status) == status) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (f fakeCampaigns) GetStatus(ctx context.Context, id string) (model.CampaignStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return c.Status, nil
}

func (f fakeCampaigns) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*model.Campaign
	for _, c := range f.campaigns {
		if c.Status == model.CampaignPending && !c.ScheduledAt.After(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (f fakeCampaigns) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	if c == nil || c.Status != model.CampaignPending {
		return false, nil
	}
	c.Status = model.CampaignProcessing
	c.StartedAt = &now
	return true, nil
}

func (f fakeCampaigns) MarkScheduled(ctx context.Context, id string, jobs, publishErrors int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.campaigns[id]; c != nil {
		if c.Status == model.CampaignProcessing {
			c.Status = model.CampaignScheduled
		}
		c.JobsScheduled = jobs
		c.PublishErrors = publishErrors
	}
	return nil
}

func (f fakeCampaigns) MarkFailed(ctx context.Context, id, diagnostic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.campaigns[id]; c != nil && (c.Status == model.CampaignPending || c.Status == model.CampaignProcessing) {
		c.Status = model.CampaignFailed
		c.ErrorMessage = diagnostic
	}
	return nil
}

func (f fakeCampaigns) TransitionStatus(ctx context.Context, id string, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	if c == nil {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f fakeCampaigns) TryComplete(ctx context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	if c == nil || c.CompletedAt != nil || (c.Status != model.CampaignProcessing && c.Status != model.CampaignScheduled) {
		return false, nil
	}
	c.CompletedAt = &now
	c.Status = model.CampaignCompleted
	f.completeWrites++
	return true, nil
}

func (f fakeCampaigns) IncrementSent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].SentCount++
	return nil
}

// ====================== message logs ======================

type fakeLogs struct{ *fakeStore }

func (f fakeLogs) BulkInsert(ctx context.Context, logs []*model.MessageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return f.bulkErr
	}
	for _, m := range logs {
		cp := *m
		f.logs[m.ID] = &cp
	}
	return nil
}

func (f fakeLogs) GetByID(ctx context.Context, id string) (*model.MessageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.logs[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	cp := *m
	return &cp, nil
}

func (f fakeLogs) MarkSent(ctx context.Context, id string, rec repository.SendRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.logs[id]
	if m == nil || m.Status == model.MessageSent || m.Failure == model.FailurePermanent {
		return false, nil
	}
	m.Status = model.MessageSent
	m.Failure = model.FailureNone
	m.ProviderMessageID = rec.ProviderMessageID
	m.ProviderResponse = rec.ProviderResponse
	m.Content = rec.Content
	m.Metadata = rec.Metadata
	m.SentAt = &rec.SentAt
	m.ErrorMessage = ""
	f.sendCounter[id]++
	return true, nil
}

func (f fakeLogs) MarkFailed(ctx context.Context, id string, kind model.FailureKind, errMsg string, meta model.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.logs[id]
	if m == nil || m.Status == model.MessageSent || m.Failure == model.FailurePermanent {
		return nil
	}
	m.Status = model.MessageFailed
	m.Failure = kind
	m.ErrorMessage = errMsg
	m.Metadata = meta
	return nil
}

func (f fakeLogs) MarkHalted(ctx context.Context, id string, status model.MessageStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.logs[id]
	if m == nil || m.Status == model.MessageSent || m.Failure == model.FailurePermanent {
		return false, nil
	}
	m.Status = status
	return true, nil
}

func (f fakeLogs) CountPendingSiblings(ctx context.Context, campaignID, excludeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.logs {
		if m.CampaignID == campaignID && m.ID != excludeID && m.Status == model.MessageQueued {
			n++
		}
	}
	return n, nil
}

func (f fakeLogs) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := map[string]int{"total": 0, "queued": 0, "sent": 0, "failed": 0, "paused": 0, "cancelled": 0}
	for _, m := range f.logs {
		if m.CampaignID == campaignID {
			stats[string(m.Status)]++
			stats["total"]++
		}
	}
	return stats, nil
}

func (f fakeLogs) CompletionStats(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[campaignID]
	s := &model.CampaignStats{CampaignID: campaignID, TenantID: c.TenantID, Name: c.Name}
	if c.StartedAt != nil {
		s.StartedAt = *c.StartedAt
	}
	if c.CompletedAt != nil {
		s.CompletedAt = *c.CompletedAt
	}
	used := map[string]bool{}
	for _, m := range f.logs {
		if m.CampaignID != campaignID {
			continue
		}
		s.Total++
		switch m.Status {
		case model.MessageSent:
			s.Sent++
			if !used[m.InstanceName] {
				used[m.InstanceName] = true
				s.Instances = append(s.Instances, m.InstanceName)
			}
		case model.MessageFailed:
			s.Failed++
		case model.MessageCancelled:
			s.Cancelled++
		}
	}
	sort.Strings(s.Instances)
	return s, nil
}

func (f fakeLogs) ListByStatus(ctx context.Context, campaignID string, status model.MessageStatus) ([]*model.MessageLog, error) {
	var out []*model.MessageLog
	for _, m := range f.logsOf(campaignID) {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f fakeLogs) Requeue(ctx context.Context, schedule map[string]time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, at := range schedule {
		if m := f.logs[id]; m != nil && m.Status == model.MessagePaused {
			m.Status = model.MessageQueued
			m.ScheduledFor = at
		}
	}
	return nil
}

func (f fakeLogs) MarkResponded(ctx context.Context, tenantID, instance, phone string, at time.Time) (*model.MessageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.MessageLog
	for _, m := range f.logs {
		if m.TenantID == tenantID && m.InstanceName == instance && m.Phone == phone &&
			m.Status == model.MessageSent && m.RespondedAt == nil {
			if latest == nil || m.SentAt.After(*latest.SentAt) {
				latest = m
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	latest.RespondedAt = &at
	cp := *latest
	return &cp, nil
}

// ====================== instances ======================

type fakeInstances struct{ *fakeStore }

func (f fakeInstances) GetByName(ctx context.Context, tenantID, name string) (*model.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[tenantID+"/"+name]
	if !ok {
		return nil, appErrors.NewInstanceNotFound(tenantID, name)
	}
	return &inst, nil
}

func (f fakeInstances) GetNotificationSettings(ctx context.Context, tenantID string) (*model.NotificationSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.settings[tenantID]; ok {
		cp := *s
		return &cp, nil
	}
	return &model.NotificationSettings{TenantID: tenantID}, nil
}

// ====================== collaborators ======================

type recordingNotifier struct {
	mu          sync.Mutex
	completions []*model.CampaignStats
	replies     []string
}

func (n *recordingNotifier) NotifyCompletion(ctx context.Context, stats *model.CampaignStats) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, stats)
	return nil
}

func (n *recordingNotifier) NotifyReply(ctx context.Context, m *model.MessageLog, reply string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies = append(n.replies, m.ID+":"+reply)
	return nil
}

func (n *recordingNotifier) completionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completions)
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []model.DispatchJob
}

func (p *recordingPublisher) Publish(ctx context.Context, jobs []model.DispatchJob) (queue.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobs...)
	return queue.PublishResult{Published: len(jobs)}, nil
}

type fakeLease struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLease) Acquire(ctx context.Context, key string) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return func(context.Context) {}, false, nil
	}
	l.held[key] = true
	return func(context.Context) {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

var (
	_ repository.CampaignRepositoryInterface   = fakeCampaigns{}
	_ repository.MessageLogRepositoryInterface = fakeLogs{}
	_ repository.InstanceRepositoryInterface   = fakeInstances{}
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func (s *fakeStore) campaignPtr(id string) *model.Campaign {
	c := s.campaign(id)
	return &c
}
