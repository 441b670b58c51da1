package models

import "time"

// Activity is one append-only ledger row recording a pipeline mutation.
// Sequence is the deal version the entry produced and is unique per deal.
type Activity struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string     `gorm:"size:64;not null;index:idx_activities_tenant_created,priority:1" json:"tenant_id"`
	DealID      string     `gorm:"size:36;not null;uniqueIndex:idx_activities_deal_seq,priority:1" json:"deal_id"`
	Sequence    int64      `gorm:"not null;uniqueIndex:idx_activities_deal_seq,priority:2" json:"sequence"`
	Type        string     `gorm:"size:32;not null" json:"type"`
	Description string     `gorm:"type:text" json:"description"`
	FromStageID *string    `gorm:"size:36" json:"from_stage_id"`
	ToStageID   *string    `gorm:"size:36" json:"to_stage_id"`
	TriggeredBy string     `gorm:"size:16;not null;index" json:"triggered_by"`
	ActorID     string     `gorm:"size:64" json:"actor_id"`
	Undone      bool       `gorm:"not null" json:"undone"`
	UndoneAt    *time.Time `json:"undone_at"`
	UndoneBy    string     `gorm:"size:64" json:"undone_by,omitempty"`
	CreatedAt   time.Time  `gorm:"index:idx_activities_tenant_created,priority:2" json:"created_at"`
}
