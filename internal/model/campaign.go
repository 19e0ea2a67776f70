// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "pending"
	CampaignProcessing CampaignStatus = "processing"
	// CampaignScheduled means fan-out finished; delivery may still be running.
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Halted reports whether workers must stop sending for the campaign.
func (s CampaignStatus) Halted() bool {
	return s == CampaignPaused || s == CampaignCancelled
}

type Template struct {
	Text      string `json:"text"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

type Campaign struct {
	ID                  string         `db:"id" json:"id"`
	TenantID            string         `db:"tenant_id" json:"tenant_id"`
	Name                string         `db:"name" json:"name"`
	TargetAudience      string         `db:"target_audience" json:"target_audience"`
	CreativeDescription string         `db:"creative_description" json:"creative_description"`
	Contacts            []Contact      `db:"contacts" json:"contacts"`
	Templates           []Template     `db:"templates" json:"templates"`
	Instances           []string       `db:"instances" json:"instances"`
	DelayMin            int            `db:"delay_min" json:"delay_min"`
	DelayMax            int            `db:"delay_max" json:"delay_max"`
	AIRewrite           bool           `db:"ai_rewrite" json:"ai_rewrite"`
	Status              CampaignStatus `db:"status" json:"status"`
	ErrorMessage        string         `db:"error_message" json:"error_message,omitempty"`
	JobsScheduled       int            `db:"jobs_scheduled" json:"jobs_scheduled"`
	PublishErrors       int            `db:"publish_errors" json:"publish_errors"`
	SentCount           int            `db:"sent_count" json:"sent_count"`
	ScheduledAt         time.Time      `db:"scheduled_at" json:"scheduled_at"`
	StartedAt           *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// CampaignStats is the aggregate handed to the notifier once a campaign completes.
type CampaignStats struct {
	CampaignID  string
	TenantID    string
	Name        string
	Total       int
	Sent        int
	Failed      int
	Cancelled   int
	Instances   []string
	StartedAt   time.Time
	CompletedAt time.Time
}
