// internal/model/job.go
package model

type JobHandler string

const (
	HandlerSend   JobHandler = "send"
	HandlerSendAI JobHandler = "send-ai"
)

// DispatchJob is the queue payload for one message delivery attempt.
type DispatchJob struct {
	MessageID    string     `json:"message_id"`
	Phone        string     `json:"phone"`
	Content      string     `json:"content"`
	InstanceName string     `json:"instance_name"`
	CampaignID   string     `json:"campaign_id"`
	TenantID     string     `json:"tenant_id"`
	MediaURL     string     `json:"media_url,omitempty"`
	MediaType    string     `json:"media_type,omitempty"`
	NotBefore    int64      `json:"not_before"`
	Handler      JobHandler `json:"handler"`
}

// JobFromLog rebuilds the queue payload from its durable record.
func JobFromLog(m *MessageLog, handler JobHandler) DispatchJob {
	return DispatchJob{
		MessageID:    m.ID,
		Phone:        m.Phone,
		Content:      m.Content,
		InstanceName: m.InstanceName,
		CampaignID:   m.CampaignID,
		TenantID:     m.TenantID,
		MediaURL:     m.MediaURL,
		MediaType:    m.MediaType,
		NotBefore:    m.ScheduledFor.Unix(),
		Handler:      handler,
	}
}

// HandlerFor picks the worker flavour for a campaign.
func HandlerFor(aiRewrite bool) JobHandler {
	if aiRewrite {
		return HandlerSendAI
	}
	return HandlerSend
}
