package models

import "time"

// Stage is one position in a tenant's ordered sales pipeline.
type Stage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string    `gorm:"size:64;not null;uniqueIndex:idx_stages_tenant_slug,priority:1" json:"tenant_id"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	Slug      string    `gorm:"size:64;not null;uniqueIndex:idx_stages_tenant_slug,priority:2" json:"slug"`
	Color     string    `gorm:"size:16" json:"color"`
	SortOrder int       `gorm:"not null" json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}
