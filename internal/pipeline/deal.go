package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fixaren/backoffice/internal/events"
	"github.com/fixaren/backoffice/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateDealInput holds parameters for creating a deal.
type CreateDealInput struct {
	Title       string
	StageSlug   string // empty selects the first stage
	CustomerID  *string
	Value       decimal.NullDecimal
	Description string
	Priority    string // default medium
	Assignee    string
	Origin      string // default manual
	TriggeredBy string // default user
	ActorID     string
}

// DealFilter narrows ListDeals.
type DealFilter struct {
	StageSlug  string
	CustomerID string
	Assignee   string
	Limit      int
	Offset     int
}

// DealPatch is a partial edit of a deal's details. Nil fields are left
// unchanged. Stage and version are never touched.
type DealPatch struct {
	Title       *string          `json:"title"`
	Value       *decimal.Decimal `json:"value"`
	ClearValue  bool             `json:"clear_value"`
	Description *string          `json:"description"`
	Priority    *string          `json:"priority"`
	Assignee    *string          `json:"assignee"`
	CustomerID  *string          `json:"customer_id"` // empty string clears
}

// CreateDeal inserts a deal in its initial stage together with its
// deal_created ledger entry. An unknown stage slug fails the whole call.
func (s *Service) CreateDeal(ctx context.Context, tenant string, in CreateDealInput) (deal *models.Deal, err error) {
	defer func(start time.Time) { s.observe("create_deal", start, err) }(time.Now())

	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if err := normalizeCreate(&in); err != nil {
		return nil, err
	}

	set, err := s.stages(ctx, tenant)
	if err != nil {
		return nil, err
	}
	stage := set.first()
	if in.StageSlug != "" {
		if stage, err = set.slug(in.StageSlug); err != nil {
			return nil, err
		}
	}

	now := s.now()
	deal = &models.Deal{
		ID:          s.newID(),
		TenantID:    tenant,
		Title:       in.Title,
		CustomerID:  in.CustomerID,
		Value:       in.Value,
		StageID:     stage.ID,
		Description: in.Description,
		Priority:    in.Priority,
		Origin:      in.Origin,
		Assignee:    in.Assignee,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	deal.StageEnteredAt = &now
	act := &models.Activity{
		ID:          s.newID(),
		TenantID:    tenant,
		DealID:      deal.ID,
		Sequence:    1,
		Type:        TypeDealCreated,
		Description: fmt.Sprintf("Deal %q created in %s", in.Title, stage.Name),
		ToStageID:   stringPtr(stage.ID),
		TriggeredBy: in.TriggeredBy,
		ActorID:     in.ActorID,
		CreatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(deal).Error; err != nil {
			return storeErr("create deal", err)
		}
		if err := tx.Create(act).Error; err != nil {
			return storeErr("append activity", err)
		}
		return nil
	})
	if err = txErr("create deal", err); err != nil {
		return nil, err
	}

	s.logger(ctx).Debugw("deal created", "tenant", tenant, "deal", deal.ID, "stage", stage.Slug, "triggered_by", in.TriggeredBy)
	s.publish(ctx, dealEvent(events.TypeDealCreated, deal, act, models.Stage{}, stage))
	return deal, nil
}

func normalizeCreate(in *CreateDealInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return validationf("title is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !validPriorities[in.Priority] {
		return validationf("priority %q must be one of low, medium, high", in.Priority)
	}
	if in.Origin == "" {
		in.Origin = OriginManual
	}
	if !validOrigins[in.Origin] {
		return validationf("origin %q must be one of manual, automated", in.Origin)
	}
	if in.TriggeredBy == "" {
		in.TriggeredBy = TriggeredByUser
	}
	if !validTriggeredBy[in.TriggeredBy] {
		return validationf("triggered_by %q must be one of user, system, automation", in.TriggeredBy)
	}
	if in.Value.Valid && in.Value.Decimal.IsNegative() {
		return validationf("value must not be negative")
	}
	if in.CustomerID != nil && *in.CustomerID == "" {
		in.CustomerID = nil
	}
	return nil
}

// GetDeal loads one of the tenant's deals.
func (s *Service) GetDeal(ctx context.Context, tenant, dealID string) (*models.Deal, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if dealID == "" {
		return nil, validationf("deal id is required")
	}
	var deal models.Deal
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", dealID, tenant).
		First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: deal %s", ErrNotFound, dealID)
	}
	if err != nil {
		return nil, storeErr("get deal", err)
	}
	return &deal, nil
}

// ListDeals returns the tenant's deals, most recently updated first.
func (s *Service) ListDeals(ctx context.Context, tenant string, f DealFilter) ([]models.Deal, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	limit, err := pageSize(f.Limit)
	if err != nil {
		return nil, err
	}
	if f.Offset < 0 {
		return nil, validationf("offset must not be negative")
	}

	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenant)
	if f.StageSlug != "" {
		stage, err := s.GetStageBySlug(ctx, tenant, f.StageSlug)
		if err != nil {
			return nil, err
		}
		q = q.Where("stage_id = ?", stage.ID)
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.Assignee != "" {
		q = q.Where("assignee = ?", f.Assignee)
	}

	var deals []models.Deal
	if err := q.Order("updated_at DESC, id ASC").Limit(limit).Offset(f.Offset).Find(&deals).Error; err != nil {
		return nil, storeErr("list deals", err)
	}
	return deals, nil
}

// UpdateDealDetails applies a partial edit. It writes no ledger entry and
// does not bump the deal version, so it never conflicts with a move.
func (s *Service) UpdateDealDetails(ctx context.Context, tenant, dealID string, p DealPatch) (deal *models.Deal, err error) {
	defer func(start time.Time) { s.observe("update_deal", start, err) }(time.Now())

	updates := map[string]interface{}{}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, validationf("title must not be empty")
		}
		updates["title"] = title
	}
	switch {
	case p.ClearValue && p.Value != nil:
		return nil, validationf("value and clear_value are mutually exclusive")
	case p.ClearValue:
		updates["value"] = decimal.NullDecimal{}
	case p.Value != nil:
		if p.Value.IsNegative() {
			return nil, validationf("value must not be negative")
		}
		updates["value"] = decimal.NewNullDecimal(*p.Value)
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.Priority != nil {
		if !validPriorities[*p.Priority] {
			return nil, validationf("priority %q must be one of low, medium, high", *p.Priority)
		}
		updates["priority"] = *p.Priority
	}
	if p.Assignee != nil {
		updates["assignee"] = *p.Assignee
	}
	if p.CustomerID != nil {
		if *p.CustomerID == "" {
			updates["customer_id"] = nil
		} else {
			updates["customer_id"] = *p.CustomerID
		}
	}
	if len(updates) == 0 {
		return nil, validationf("no fields to update")
	}

	if _, err := s.GetDeal(ctx, tenant, dealID); err != nil {
		return nil, err
	}
	updates["updated_at"] = s.now()
	err = s.db.WithContext(ctx).
		Model(&models.Deal{}).
		Where("id = ? AND tenant_id = ?", dealID, tenant).
		Updates(updates).Error
	if err != nil {
		return nil, storeErr("update deal", err)
	}
	return s.GetDeal(ctx, tenant, dealID)
}

// dealEvent builds the event for a committed deal mutation.
func dealEvent(typ string, deal *models.Deal, act *models.Activity, from, to models.Stage) events.Event {
	ev := events.Event{
		Type:        typ,
		TenantID:    deal.TenantID,
		DealID:      deal.ID,
		DealTitle:   deal.Title,
		ActivityID:  act.ID,
		FromStage:   from.Slug,
		ToStage:     to.Slug,
		TriggeredBy: act.TriggeredBy,
		ActorID:     act.ActorID,
		OccurredAt:  act.CreatedAt,
	}
	if deal.Value.Valid {
		ev.Value = deal.Value.Decimal.StringFixed(2)
	}
	return ev
}
