package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetStatus(ctx context.Context, id string) (model.CampaignStatus, error)

	// Planning
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkScheduled(ctx context.Context, id string, jobs, publishErrors int) error
	MarkFailed(ctx context.Context, id, diagnostic string) error

	// Operator transitions and completion
	TransitionStatus(ctx context.Context, id string, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error)
	TryComplete(ctx context.Context, id string, now time.Time) (bool, error)
	IncrementSent(ctx context.Context, id string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const campaignColumns = `id, tenant_id, name, target_audience, creative_description, contacts, templates,
	instances, delay_min, delay_max, ai_rewrite, status, error_message, jobs_scheduled, publish_errors,
	sent_count, scheduled_at, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c         model.Campaign
		contacts  []byte
		templates []byte
		errMsg    sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.TargetAudience, &c.CreativeDescription, &contacts, &templates,
		pq.Array(&c.Instances), &c.DelayMin, &c.DelayMax, &c.AIRewrite, &c.Status, &errMsg, &c.JobsScheduled,
		&c.PublishErrors, &c.SentCount, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ErrorMessage = errMsg.String
	if err := json.Unmarshal(contacts, &c.Contacts); err != nil {
		return nil, fmt.Errorf("failed to decode contacts of campaign %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(templates, &c.Templates); err != nil {
		return nil, fmt.Errorf("failed to decode templates of campaign %s: %w", c.ID, err)
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignPending
	}
	c.CreatedAt = time.Now().UTC()
	if c.ScheduledAt.IsZero() {
		c.ScheduledAt = c.CreatedAt
	}

	contacts, err := json.Marshal(c.Contacts)
	if err != nil {
		return fmt.Errorf("failed to encode contacts: %w", err)
	}
	templates, err := json.Marshal(c.Templates)
	if err != nil {
		return fmt.Errorf("failed to encode templates: %w", err)
	}

	query := `
        INSERT INTO campaigns (id, tenant_id, name, target_audience, creative_description, contacts, templates,
                               instances, delay_min, delay_max, ai_rewrite, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `
	_, err = r.DB.ExecContext(ctx, query,
		c.ID, c.TenantID, c.Name, c.TargetAudience, c.CreativeDescription, contacts, templates,
		pq.Array(c.Instances), c.DelayMin, c.DelayMax, c.AIRewrite, c.Status, c.ScheduledAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) GetStatus(ctx context.Context, id string) (model.CampaignStatus, error) {
	var status model.CampaignStatus
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.NewCampaignNotFound(id)
		}
		return "", err
	}
	return status, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	filter := sq.And{}
	if tenantID != "" {
		filter = append(filter, sq.Eq{"tenant_id": tenantID})
	}
	if status != "" {
		filter = append(filter, sq.Eq{"status": status})
	}

	query, args, err := psql.Select(campaignColumns).
		From("campaigns").
		Where(filter).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("campaigns").Where(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ====================== Planning ======================

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status = 'pending' AND scheduled_at <= $1
        ORDER BY scheduled_at ASC
        LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Claim moves a campaign from pending to processing. Only one caller gets true.
func (r *CampaignRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
        UPDATE campaigns
        SET status = 'processing', started_at = $2, updated_at = $2
        WHERE id = $1 AND status = 'pending'
    `
	return execAffected(ctx, r.DB, query, id, now)
}

// MarkScheduled always records the fan-out counts. The status only moves when the
// campaign is still processing, so a pause or cancel during fan-out is kept.
func (r *CampaignRepository) MarkScheduled(ctx context.Context, id string, jobs, publishErrors int) error {
	query := `
        UPDATE campaigns
        SET status = CASE WHEN status = 'processing' THEN 'scheduled' ELSE status END,
            jobs_scheduled = $2, publish_errors = $3, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, id, jobs, publishErrors)
	return err
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id, diagnostic string) error {
	query := `
        UPDATE campaigns
        SET status = 'failed', error_message = $2, updated_at = NOW()
        WHERE id = $1 AND status IN ('pending', 'processing')
    `
	_, err := r.DB.ExecContext(ctx, query, id, diagnostic)
	return err
}

// ====================== Transitions ======================

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id string, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `
        UPDATE campaigns
        SET status = $2, updated_at = NOW()
        WHERE id = $1 AND status = ANY($3)
    `
	return execAffected(ctx, r.DB, query, id, to, pq.Array(allowed))
}

// TryComplete is the single arbitration point for campaign completion.
func (r *CampaignRepository) TryComplete(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
        UPDATE campaigns
        SET completed_at = $2, status = 'completed', updated_at = $2
        WHERE id = $1 AND completed_at IS NULL AND status IN ('processing', 'scheduled')
    `
	return execAffected(ctx, r.DB, query, id, now)
}

func (r *CampaignRepository) IncrementSent(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET sent_count = sent_count + 1 WHERE id = $1`, id)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execAffected(ctx context.Context, db execer, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
