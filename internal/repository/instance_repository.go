package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/model"
)

// InstanceRepositoryInterface defines methods used by the worker and notifier
type InstanceRepositoryInterface interface {
	GetByName(ctx context.Context, tenantID, name string) (*model.Instance, error)
	GetNotificationSettings(ctx context.Context, tenantID string) (*model.NotificationSettings, error)
}

// InstanceRepository is the concrete implementation
type InstanceRepository struct {
	DB *sql.DB
}

// GetByName resolves the send credential of a tenant's instance
func (r *InstanceRepository) GetByName(ctx context.Context, tenantID, name string) (*model.Instance, error) {
	query := `
        SELECT tenant_id, name, api_key
        FROM instances
        WHERE tenant_id = $1 AND name = $2
    `
	var i model.Instance
	if err := r.DB.QueryRowContext(ctx, query, tenantID, name).Scan(&i.TenantID, &i.Name, &i.APIKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewInstanceNotFound(tenantID, name)
		}
		return nil, err
	}
	if i.APIKey == "" {
		return nil, appErrors.NewInstanceNotFound(tenantID, name)
	}
	return &i, nil
}

// GetNotificationSettings returns an empty phone list when the tenant configured none
func (r *InstanceRepository) GetNotificationSettings(ctx context.Context, tenantID string) (*model.NotificationSettings, error) {
	query := `
        SELECT tenant_id, COALESCE(instance_name, ''), phones
        FROM notification_settings
        WHERE tenant_id = $1
    `
	s := model.NotificationSettings{TenantID: tenantID}
	err := r.DB.QueryRowContext(ctx, query, tenantID).Scan(&s.TenantID, &s.Instance, pq.Array(&s.Phones))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &s, nil
}

var _ InstanceRepositoryInterface = (*InstanceRepository)(nil)
