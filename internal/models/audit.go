package models

import "time"

// DefaultTenant marks individual consumers; auto-stop audit entries are only
// written for fleet tenants.
const DefaultTenant = "default"

// AuditEntry records an automatic termination for fleet tenants.
type AuditEntry struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	SessionID int64     `db:"session_id" json:"session_id"`
	Action    string    `db:"action" json:"action"`
	Reason    string    `db:"reason" json:"reason"`
	Actor     string    `db:"actor" json:"actor"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
