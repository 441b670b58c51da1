package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/models"
)

// SweepStaleDeals closes the tenant's deals that have sat in lead or
// contacted for longer than stale_lead_days by moving them to lost. The
// clock starts when a deal entered its stage; detail edits do not reset it.
// It returns the number of deals moved. A threshold of 0 disables it.
func (s *Service) SweepStaleDeals(ctx context.Context, tenant string) (moved int, err error) {
	defer func(start time.Time) { s.observe("sweep_stale", start, err) }(time.Now())

	settings, err := s.GetAutomationSettings(ctx, tenant)
	if err != nil {
		return 0, err
	}
	if settings.StaleLeadDays <= 0 {
		return 0, nil
	}
	set, err := s.stages(ctx, tenant)
	if err != nil {
		return 0, err
	}
	lost, err := set.slug(SlugLost)
	if err != nil {
		return 0, err
	}
	var open []string
	for _, slug := range []string{SlugLead, SlugContacted} {
		if st, ok := set.bySlug[slug]; ok {
			open = append(open, st.ID)
		}
	}
	if len(open) == 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-time.Duration(settings.StaleLeadDays) * 24 * time.Hour)
	var deals []models.Deal
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND stage_id IN ? AND COALESCE(stage_entered_at, updated_at) < ?", tenant, open, cutoff).
		Order("COALESCE(stage_entered_at, updated_at) ASC, id ASC").
		Find(&deals).Error
	if err != nil {
		return 0, storeErr("find stale deals", err)
	}

	for i := range deals {
		deal := &deals[i]
		from := set.id(deal.StageID)
		_, err := s.transition(ctx, deal, from, lost, transitionOpts{
			kind:        TypeAutomatedAction,
			triggeredBy: TriggeredBySystem,
			description: fmt.Sprintf("Closed as lost after %d days in %s", settings.StaleLeadDays, stageLabel(from)),
		})
		if errors.Is(err, ErrConflict) {
			// Moved since it was selected.
			continue
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	s.metrics.AddSweepMoved(moved)
	if moved > 0 {
		s.logger(ctx).Infow("stale deals closed", "tenant", tenant, "count", moved, "days", settings.StaleLeadDays)
	}
	return moved, nil
}

// SweepAll runs SweepStaleDeals for every tenant with a positive
// threshold. A failing tenant does not stop the others.
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	var tenants []string
	err := s.db.WithContext(ctx).
		Model(&models.AutomationSettings{}).
		Where("stale_lead_days > ?", 0).
		Order("tenant_id ASC").
		Pluck("tenant_id", &tenants).Error
	if err != nil {
		return 0, storeErr("list sweep tenants", err)
	}

	total := 0
	var errs []error
	for _, tenant := range tenants {
		n, err := s.SweepStaleDeals(ctx, tenant)
		total += n
		if err != nil {
			s.logger(ctx).Errorw("stale sweep failed", "tenant", tenant, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
		}
	}
	return total, errors.Join(errs...)
}
