// internal/model/instance.go
package model

// Instance is a pooled WhatsApp connection owned by a tenant.
type Instance struct {
	TenantID string `db:"tenant_id" json:"tenant_id"`
	Name     string `db:"name" json:"name"`
	APIKey   string `db:"api_key" json:"-"`
}

// NotificationSettings lists the staff numbers told about replies and completions.
type NotificationSettings struct {
	TenantID string   `db:"tenant_id" json:"tenant_id"`
	Instance string   `db:"instance_name" json:"instance_name"`
	Phones   []string `db:"phones" json:"phones"`
}
