package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fixaren/backoffice/internal/events"
	"github.com/fixaren/backoffice/internal/models"
	"gorm.io/gorm"
)

// UndoResult is the outcome of an undo.
type UndoResult struct {
	Deal *models.Deal `json:"deal"`
	// Undone is the reversed entry, now flagged.
	Undone *models.Activity `json:"undone"`
	// Activity is the forward stage_moved entry recording the reversal.
	Activity *models.Activity `json:"activity"`
}

// GetEntry loads one ledger entry of the tenant as its variant.
func (s *Service) GetEntry(ctx context.Context, tenant, activityID string) (Entry, error) {
	row, err := s.getActivity(ctx, tenant, activityID)
	if err != nil {
		return nil, err
	}
	return DecodeEntry(*row)
}

func (s *Service) getActivity(ctx context.Context, tenant, activityID string) (*models.Activity, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if activityID == "" {
		return nil, validationf("activity id is required")
	}
	var row models.Activity
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", activityID, tenant).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: activity %s", ErrNotFound, activityID)
	}
	if err != nil {
		return nil, storeErr("get activity", err)
	}
	return &row, nil
}

// UndoActivity reverses the stage effect of a ledger entry. The entry is
// flagged undone exactly once and a new stage_moved entry records the
// reversal; history is never rewritten. Only the latest entry of a deal
// can be undone (ErrNotLatest otherwise), so an undo never skips over
// later moves.
func (s *Service) UndoActivity(ctx context.Context, tenant, activityID, actingUser string) (res *UndoResult, err error) {
	defer func(start time.Time) { s.observe("undo_activity", start, err) }(time.Now())

	if strings.TrimSpace(actingUser) == "" {
		return nil, validationf("acting user is required")
	}
	row, err := s.getActivity(ctx, tenant, activityID)
	if err != nil {
		return nil, err
	}
	if row.Undone {
		return nil, fmt.Errorf("%w: activity %s", ErrAlreadyUndone, row.ID)
	}
	entry, err := DecodeEntry(*row)
	if err != nil {
		return nil, err
	}
	revertTo, err := revertStage(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: activity %s", err, row.ID)
	}

	deal, err := s.GetDeal(ctx, tenant, row.DealID)
	if err != nil {
		return nil, err
	}
	if row.Sequence != deal.Version {
		return nil, fmt.Errorf("%w: activity %s is #%d, deal %s is at #%d", ErrNotLatest, row.ID, row.Sequence, deal.ID, deal.Version)
	}

	set, err := s.stages(ctx, tenant)
	if err != nil {
		return nil, err
	}
	from, to := set.id(deal.StageID), set.id(revertTo)

	now := s.now()
	next := deal.Version + 1
	counter := &models.Activity{
		ID:          s.newID(),
		TenantID:    tenant,
		DealID:      deal.ID,
		Sequence:    next,
		Type:        TypeStageMoved,
		Description: fmt.Sprintf("Undo: moved back from %s to %s", stageLabel(from), stageLabel(to)),
		FromStageID: stringPtr(from.ID),
		ToStageID:   stringPtr(to.ID),
		TriggeredBy: TriggeredByUser,
		ActorID:     actingUser,
		CreatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flip := tx.Model(&models.Activity{}).
			Where("id = ? AND tenant_id = ? AND undone = ?", row.ID, tenant, false).
			Updates(map[string]interface{}{
				"undone":    true,
				"undone_at": now,
				"undone_by": actingUser,
			})
		if flip.Error != nil {
			return storeErr("flag activity undone", flip.Error)
		}
		if flip.RowsAffected == 0 {
			return fmt.Errorf("%w: activity %s", ErrAlreadyUndone, row.ID)
		}
		if err := casDealStage(tx, deal, to.ID, now); err != nil {
			return err
		}
		return appendActivity(tx, counter)
	})
	if err = txErr("undo activity", err); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger(ctx).Warnw("undo conflict", "tenant", tenant, "activity", row.ID, "deal", deal.ID)
		}
		return nil, err
	}

	deal.StageID = to.ID
	deal.Version = next
	deal.StageEnteredAt = &now
	deal.UpdatedAt = now
	row.Undone = true
	row.UndoneAt = &now
	row.UndoneBy = actingUser

	s.logger(ctx).Debugw("activity undone", "tenant", tenant, "activity", row.ID, "deal", deal.ID, "to", to.Slug, "user", actingUser)
	s.publish(ctx, dealEvent(events.TypeActivityUndone, deal, counter, from, to))
	return &UndoResult{Deal: deal, Undone: row, Activity: counter}, nil
}
