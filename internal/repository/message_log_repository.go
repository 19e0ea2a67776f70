package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/wa-dispatch/internal/db"
	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
)

// Postgres caps bind parameters at 65535 per statement.
const insertChunkSize = 1000

type MessageLogRepositoryInterface interface {
	BulkInsert(ctx context.Context, logs []*model.MessageLog) error
	GetByID(ctx context.Context, id string) (*model.MessageLog, error)

	MarkSent(ctx context.Context, id string, res SendRecord) (bool, error)
	MarkFailed(ctx context.Context, id string, kind model.FailureKind, errMsg string, meta model.Metadata) error
	MarkHalted(ctx context.Context, id string, status model.MessageStatus) (bool, error)

	CountPendingSiblings(ctx context.Context, campaignID, excludeID string) (int, error)
	GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error)
	CompletionStats(ctx context.Context, campaignID string) (*model.CampaignStats, error)

	ListByStatus(ctx context.Context, campaignID string, status model.MessageStatus) ([]*model.MessageLog, error)
	Requeue(ctx context.Context, schedule map[string]time.Time) error
	MarkResponded(ctx context.Context, tenantID, instance, phone string, at time.Time) (*model.MessageLog, error)
}

// SendRecord is what a successful provider call leaves on the row.
type SendRecord struct {
	ProviderMessageID string
	ProviderResponse  []byte
	Content           string
	Metadata          model.Metadata
	SentAt            time.Time
}

type MessageLogRepository struct {
	DB *sql.DB
}

const messageLogColumns = `id, tenant_id, campaign_id, instance_name, phone, content, media_url, media_type,
	status, failure, provider_message_id, provider_response, error_message, metadata, created_at,
	scheduled_for, sent_at, responded_at`

func scanMessageLog(row rowScanner) (*model.MessageLog, error) {
	var (
		m          model.MessageLog
		providerID sql.NullString
		errMsg     sql.NullString
		raw        []byte
		meta       []byte
	)
	err := row.Scan(
		&m.ID, &m.TenantID, &m.CampaignID, &m.InstanceName, &m.Phone, &m.Content, &m.MediaURL, &m.MediaType,
		&m.Status, &m.Failure, &providerID, &raw, &errMsg, &meta, &m.CreatedAt,
		&m.ScheduledFor, &m.SentAt, &m.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ProviderMessageID = providerID.String
	m.ErrorMessage = errMsg.String
	m.ProviderResponse = raw
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

// BulkInsert writes every planned row in one transaction. Nothing is written if any chunk fails.
func (r *MessageLogRepository) BulkInsert(ctx context.Context, logs []*model.MessageLog) error {
	if len(logs) == 0 {
		return nil
	}

	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		for start := 0; start < len(logs); start += insertChunkSize {
			end := start + insertChunkSize
			if end > len(logs) {
				end = len(logs)
			}
			if err := insertLogChunk(ctx, tx, logs[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertLogChunk(ctx context.Context, tx *sql.Tx, logs []*model.MessageLog) error {
	insert := psql.Insert("message_logs").Columns(
		"id", "tenant_id", "campaign_id", "instance_name", "phone", "content", "media_url", "media_type",
		"status", "failure", "metadata", "created_at", "scheduled_for",
	)
	for _, m := range logs {
		meta, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		insert = insert.Values(
			m.ID, m.TenantID, m.CampaignID, m.InstanceName, m.Phone, m.Content, m.MediaURL, m.MediaType,
			m.Status, m.Failure, meta, m.CreatedAt, m.ScheduledFor,
		)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert message logs: %w", err)
	}
	return nil
}

func (r *MessageLogRepository) GetByID(ctx context.Context, id string) (*model.MessageLog, error) {
	query := `SELECT ` + messageLogColumns + ` FROM message_logs WHERE id = $1`
	m, err := scanMessageLog(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewMessageNotFound(id)
		}
		return nil, err
	}
	return m, nil
}

// MarkSent reports true only for the call that moved the row into sent.
func (r *MessageLogRepository) MarkSent(ctx context.Context, id string, rec SendRecord) (bool, error) {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
        UPDATE message_logs
        SET status = 'sent', failure = 'none', provider_message_id = $2, provider_response = $3,
            content = $4, metadata = $5, sent_at = $6, error_message = NULL
        WHERE id = $1 AND status <> 'sent' AND failure <> 'permanent'
    `
	return execAffected(ctx, r.DB, query, id, rec.ProviderMessageID, jsonDocument(rec.ProviderResponse), rec.Content, meta, rec.SentAt)
}

func (r *MessageLogRepository) MarkFailed(ctx context.Context, id string, kind model.FailureKind, errMsg string, meta model.Metadata) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
        UPDATE message_logs
        SET status = 'failed', failure = $2, error_message = $3, metadata = $4
        WHERE id = $1 AND status <> 'sent' AND failure <> 'permanent'
    `
	_, err = r.DB.ExecContext(ctx, query, id, kind, errMsg, encoded)
	return err
}

// MarkHalted records a pause or cancel observed by a worker. Sent rows are left alone.
func (r *MessageLogRepository) MarkHalted(ctx context.Context, id string, status model.MessageStatus) (bool, error) {
	query := `
        UPDATE message_logs
        SET status = $2
        WHERE id = $1 AND status <> 'sent' AND failure <> 'permanent'
    `
	return execAffected(ctx, r.DB, query, id, status)
}

// CountPendingSiblings ignores excludeID so the caller's own uncommitted row is never counted.
func (r *MessageLogRepository) CountPendingSiblings(ctx context.Context, campaignID, excludeID string) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM message_logs
        WHERE campaign_id = $1 AND status IN ('queued', 'pending') AND id <> $2
    `
	var n int
	if err := r.DB.QueryRowContext(ctx, query, campaignID, excludeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}

func (r *MessageLogRepository) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM message_logs WHERE campaign_id = $1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, "queued": 0, "sent": 0, "failed": 0, "paused": 0, "cancelled": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func (r *MessageLogRepository) CompletionStats(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	query := `
        SELECT c.tenant_id, c.name, COALESCE(c.started_at, c.created_at), COALESCE(c.completed_at, NOW()),
               COUNT(m.id),
               COUNT(m.id) FILTER (WHERE m.status = 'sent'),
               COUNT(m.id) FILTER (WHERE m.status = 'failed'),
               COUNT(m.id) FILTER (WHERE m.status = 'cancelled'),
               COALESCE(ARRAY_AGG(DISTINCT m.instance_name) FILTER (WHERE m.status = 'sent'), '{}')
        FROM campaigns c
        LEFT JOIN message_logs m ON m.campaign_id = c.id
        WHERE c.id = $1
        GROUP BY c.id
    `
	s := model.CampaignStats{CampaignID: campaignID}
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(
		&s.TenantID, &s.Name, &s.StartedAt, &s.CompletedAt,
		&s.Total, &s.Sent, &s.Failed, &s.Cancelled, pq.Array(&s.Instances),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(campaignID)
		}
		return nil, fmt.Errorf("failed to aggregate campaign stats: %w", err)
	}
	return &s, nil
}

func (r *MessageLogRepository) ListByStatus(ctx context.Context, campaignID string, status model.MessageStatus) ([]*model.MessageLog, error) {
	query := `SELECT ` + messageLogColumns + `
        FROM message_logs
        WHERE campaign_id = $1 AND status = $2
        ORDER BY scheduled_for ASC`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.MessageLog
	for rows.Next() {
		m, err := scanMessageLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, m)
	}
	return logs, rows.Err()
}

// Requeue puts paused rows back to queued with a new schedule, in one transaction.
func (r *MessageLogRepository) Requeue(ctx context.Context, schedule map[string]time.Time) error {
	if len(schedule) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            UPDATE message_logs
            SET status = 'queued', scheduled_for = $2
            WHERE id = $1 AND status = 'paused'
        `)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for id, at := range schedule {
			if _, err := stmt.ExecContext(ctx, id, at); err != nil {
				return fmt.Errorf("failed to requeue message %s: %w", id, err)
			}
		}
		return nil
	})
}

// MarkResponded stamps the most recent sent message to phone. Nil means nothing matched.
func (r *MessageLogRepository) MarkResponded(ctx context.Context, tenantID, instance, phone string, at time.Time) (*model.MessageLog, error) {
	query := `
        UPDATE message_logs
        SET responded_at = $4
        WHERE id = (
            SELECT id FROM message_logs
            WHERE tenant_id = $1 AND instance_name = $2 AND phone = $3
              AND status = 'sent' AND responded_at IS NULL
            ORDER BY sent_at DESC
            LIMIT 1
        )
        RETURNING ` + messageLogColumns
	m, err := scanMessageLog(r.DB.QueryRowContext(ctx, query, tenantID, instance, phone, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// jsonDocument keeps provider_response a valid JSONB value even for non-JSON bodies.
func jsonDocument(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, _ := json.Marshal(string(raw))
	return wrapped
}

var _ MessageLogRepositoryInterface = (*MessageLogRepository)(nil)
