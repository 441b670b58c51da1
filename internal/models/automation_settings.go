package models

import "time"

// AutomationSettings holds one tenant's automatic transition toggles.
type AutomationSettings struct {
	TenantID             string    `gorm:"primaryKey;size:64" json:"tenant_id"`
	AutoCreateOnBooking  bool      `gorm:"not null" json:"auto_create_on_booking"`
	AdvanceOnQuoteSent   bool      `gorm:"not null" json:"advance_on_quote_sent"`
	AdvanceOnInvoicePaid bool      `gorm:"not null" json:"advance_on_invoice_paid"`
	StaleLeadDays        int       `gorm:"not null" json:"stale_lead_days"`
	NotifyOnWon          bool      `gorm:"not null" json:"notify_on_won"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName overrides the pluralized default.
func (AutomationSettings) TableName() string {
	return "automation_settings"
}
