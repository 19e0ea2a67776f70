// internal/model/message_log.go
package model

import "time"

type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageFailed    MessageStatus = "failed"
	MessagePaused    MessageStatus = "paused"
	MessageCancelled MessageStatus = "cancelled"
)

// FailureKind tags a failed row so a retry can tell a transient failure
// from one that must never be retried.
type FailureKind string

const (
	FailureNone      FailureKind = "none"
	FailureRetryable FailureKind = "retryable"
	FailurePermanent FailureKind = "permanent"
)

type MessageLog struct {
	ID                string        `db:"id" json:"id"`
	TenantID          string        `db:"tenant_id" json:"tenant_id"`
	CampaignID        string        `db:"campaign_id" json:"campaign_id"`
	InstanceName      string        `db:"instance_name" json:"instance_name"`
	Phone             string        `db:"phone" json:"phone"`
	Content           string        `db:"content" json:"content"`
	MediaURL          string        `db:"media_url" json:"media_url,omitempty"`
	MediaType         string        `db:"media_type" json:"media_type,omitempty"`
	Status            MessageStatus `db:"status" json:"status"`
	Failure           FailureKind   `db:"failure" json:"failure"`
	ProviderMessageID string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ProviderResponse  []byte        `db:"provider_response" json:"-"`
	ErrorMessage      string        `db:"error_message" json:"error_message,omitempty"`
	Metadata          Metadata      `db:"metadata" json:"metadata"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	ScheduledFor      time.Time     `db:"scheduled_for" json:"scheduled_for"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	RespondedAt       *time.Time    `db:"responded_at" json:"responded_at,omitempty"`
}

// Done reports whether no further delivery attempt may change the row.
func (m *MessageLog) Done() bool {
	return m.Status == MessageSent || (m.Status == MessageFailed && m.Failure == FailurePermanent)
}

// Metadata is the free-form JSONB column of a message log.
type Metadata struct {
	ProtectedValues []string `json:"protected_values,omitempty"`
	AIAttempted     bool     `json:"ai_attempted,omitempty"`
	AISucceeded     bool     `json:"ai_succeeded,omitempty"`
	AIModel         string   `json:"ai_model,omitempty"`
	AIError         string   `json:"ai_error,omitempty"`
	OriginalContent string   `json:"original_content,omitempty"`
}
