package pipeline

import (
	"context"
	"time"

	"github.com/fixaren/backoffice/internal/models"
)

// StageRef is the display form of a stage attached to ledger entries.
type StageRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color"`
}

// ActivityView is a ledger entry enriched with its stages.
type ActivityView struct {
	models.Activity
	FromStage *StageRef `json:"from_stage"`
	ToStage   *StageRef `json:"to_stage"`
}

// ActivityFilter narrows ListActivity.
type ActivityFilter struct {
	TriggeredBy string
	DealID      string
	// Since, when set, keeps entries created at or after it.
	Since time.Time
	Limit int
}

// ListActivity returns the tenant's ledger, newest first, enriched with
// stage names. Stages are looked up once per call.
func (s *Service) ListActivity(ctx context.Context, tenant string, f ActivityFilter) ([]ActivityView, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if f.TriggeredBy != "" && !validTriggeredBy[f.TriggeredBy] {
		return nil, validationf("triggered_by %q must be one of user, system, automation", f.TriggeredBy)
	}
	limit, err := pageSize(f.Limit)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenant)
	if f.TriggeredBy != "" {
		q = q.Where("triggered_by = ?", f.TriggeredBy)
	}
	if f.DealID != "" {
		q = q.Where("deal_id = ?", f.DealID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}

	var rows []models.Activity
	if err := q.Order("created_at DESC, sequence DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, storeErr("list activity", err)
	}
	return s.enrich(ctx, tenant, rows)
}

// ListActivityForDeal returns one deal's ledger, newest first.
func (s *Service) ListActivityForDeal(ctx context.Context, tenant, dealID string, limit int) ([]ActivityView, error) {
	n, err := pageSize(limit)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetDeal(ctx, tenant, dealID); err != nil {
		return nil, err
	}

	var rows []models.Activity
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND deal_id = ?", tenant, dealID).
		Order("sequence DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list deal activity", err)
	}
	return s.enrich(ctx, tenant, rows)
}

func (s *Service) enrich(ctx context.Context, tenant string, rows []models.Activity) ([]ActivityView, error) {
	out := make([]ActivityView, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	stages, err := s.ListStages(ctx, tenant)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]*StageRef, len(stages))
	for _, st := range stages {
		refs[st.ID] = &StageRef{ID: st.ID, Name: st.Name, Slug: st.Slug, Color: st.Color}
	}
	for _, row := range rows {
		v := ActivityView{Activity: row}
		if row.FromStageID != nil {
			v.FromStage = refs[*row.FromStageID]
		}
		if row.ToStageID != nil {
			v.ToStage = refs[*row.ToStageID]
		}
		out = append(out, v)
	}
	return out, nil
}
