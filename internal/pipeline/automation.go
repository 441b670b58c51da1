package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/db"
	"github.com/fixaren/backoffice/internal/models"
	"gorm.io/gorm"
)

// DefaultAutomationSettings returns the settings a tenant starts with.
func DefaultAutomationSettings(tenant string) models.AutomationSettings {
	return models.AutomationSettings{
		TenantID:             tenant,
		AutoCreateOnBooking:  true,
		AdvanceOnQuoteSent:   true,
		AdvanceOnInvoicePaid: true,
		StaleLeadDays:        0,
		NotifyOnWon:          true,
	}
}

// AutomationPatch is a partial settings update. Nil fields are left as
// they are.
type AutomationPatch struct {
	AutoCreateOnBooking  *bool `json:"auto_create_on_booking"`
	AdvanceOnQuoteSent   *bool `json:"advance_on_quote_sent"`
	AdvanceOnInvoicePaid *bool `json:"advance_on_invoice_paid"`
	StaleLeadDays        *int  `json:"stale_lead_days"`
	NotifyOnWon          *bool `json:"notify_on_won"`
}

func (p AutomationPatch) updates() map[string]interface{} {
	u := map[string]interface{}{}
	if p.AutoCreateOnBooking != nil {
		u["auto_create_on_booking"] = *p.AutoCreateOnBooking
	}
	if p.AdvanceOnQuoteSent != nil {
		u["advance_on_quote_sent"] = *p.AdvanceOnQuoteSent
	}
	if p.AdvanceOnInvoicePaid != nil {
		u["advance_on_invoice_paid"] = *p.AdvanceOnInvoicePaid
	}
	if p.StaleLeadDays != nil {
		u["stale_lead_days"] = *p.StaleLeadDays
	}
	if p.NotifyOnWon != nil {
		u["notify_on_won"] = *p.NotifyOnWon
	}
	return u
}

// GetAutomationSettings returns the tenant's settings, creating the row
// with defaults on first read. A concurrent first read that loses the
// insert race re-reads the winner's row.
func (s *Service) GetAutomationSettings(ctx context.Context, tenant string) (settings *models.AutomationSettings, err error) {
	defer func(start time.Time) { s.observe("get_automation", start, err) }(time.Now())

	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	settings, err = s.readAutomationSettings(ctx, tenant)
	if !errors.Is(err, ErrNotFound) {
		return settings, err
	}
	return s.initAutomationSettings(ctx, tenant)
}

func (s *Service) readAutomationSettings(ctx context.Context, tenant string) (*models.AutomationSettings, error) {
	var row models.AutomationSettings
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: automation settings for tenant %s", ErrNotFound, tenant)
	}
	if err != nil {
		return nil, storeErr("get automation settings", err)
	}
	return &row, nil
}

func (s *Service) initAutomationSettings(ctx context.Context, tenant string) (*models.AutomationSettings, error) {
	row := DefaultAutomationSettings(tenant)
	now := s.now()
	row.CreatedAt, row.UpdatedAt = now, now
	err := s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		s.logger(ctx).Debugw("created default automation settings", "tenant", tenant)
		return &row, nil
	}
	if !db.IsUniqueViolation(err) {
		return nil, storeErr("create automation settings", err)
	}
	return s.readAutomationSettings(ctx, tenant)
}

// UpdateAutomationSettings merges the provided fields into the tenant's
// settings. The row must already exist (GetAutomationSettings creates it);
// a missing row yields ErrNotFound rather than an implicit insert.
func (s *Service) UpdateAutomationSettings(ctx context.Context, tenant string, p AutomationPatch) (settings *models.AutomationSettings, err error) {
	defer func(start time.Time) { s.observe("update_automation", start, err) }(time.Now())

	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if p.StaleLeadDays != nil && *p.StaleLeadDays < 0 {
		return nil, validationf("stale_lead_days must not be negative")
	}
	updates := p.updates()
	if len(updates) == 0 {
		return nil, validationf("no fields to update")
	}
	if _, err := s.readAutomationSettings(ctx, tenant); err != nil {
		return nil, err
	}

	updates["updated_at"] = s.now()
	err = s.db.WithContext(ctx).
		Model(&models.AutomationSettings{}).
		Where("tenant_id = ?", tenant).
		Updates(updates).Error
	if err != nil {
		return nil, storeErr("update automation settings", err)
	}
	return s.readAutomationSettings(ctx, tenant)
}
