package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deal is a sales opportunity tracked through the pipeline.
//
// Version is bumped by every ledger append for the deal and guards
// conditional writes against concurrent modification. StageEnteredAt
// moves with every stage change; detail edits only touch UpdatedAt.
type Deal struct {
	ID             string              `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string              `gorm:"size:64;not null;index:idx_deals_tenant_stage,priority:1" json:"tenant_id"`
	Title          string              `gorm:"size:256;not null" json:"title"`
	CustomerID     *string             `gorm:"size:64;index" json:"customer_id"`
	Value          decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"value"`
	StageID        string              `gorm:"size:36;not null;index:idx_deals_tenant_stage,priority:2" json:"stage_id"`
	Description    string              `gorm:"type:text" json:"description"`
	Priority       string              `gorm:"size:8;not null" json:"priority"`
	Origin         string              `gorm:"size:16;not null" json:"origin"`
	Assignee       string              `gorm:"size:64" json:"assignee"`
	Version        int64               `gorm:"not null" json:"version"`
	StageEnteredAt *time.Time          `gorm:"index" json:"stage_entered_at"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}
