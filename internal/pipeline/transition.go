package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/db"
	"github.com/fixaren/backoffice/internal/events"
	"github.com/fixaren/backoffice/internal/models"
	"gorm.io/gorm"
)

// MoveOpts holds optional parameters for MoveDeal.
type MoveOpts struct {
	TriggeredBy string // default user
	ActorID     string
	// ExpectedVersion, when non-zero, rejects the move with ErrConflict
	// unless the deal is still at that version.
	ExpectedVersion int64
}

// MoveResult is the outcome of a move. Activity is nil when the deal was
// already in the target stage.
type MoveResult struct {
	Deal     *models.Deal     `json:"deal"`
	Activity *models.Activity `json:"activity"`
}

// Moved reports whether the call changed the deal's stage.
func (r *MoveResult) Moved() bool { return r.Activity != nil }

// MoveDeal moves a deal to the stage with slug toSlug and appends the
// matching stage_moved entry in the same transaction. Moving a deal to its
// current stage succeeds without writing anything.
func (s *Service) MoveDeal(ctx context.Context, tenant, dealID, toSlug string, opts MoveOpts) (res *MoveResult, err error) {
	defer func(start time.Time) { s.observe("move_deal", start, err) }(time.Now())

	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = TriggeredByUser
	}
	if !validTriggeredBy[opts.TriggeredBy] {
		return nil, validationf("triggered_by %q must be one of user, system, automation", opts.TriggeredBy)
	}

	set, err := s.stages(ctx, tenant)
	if err != nil {
		return nil, err
	}
	target, err := set.slug(toSlug)
	if err != nil {
		return nil, err
	}
	deal, err := s.GetDeal(ctx, tenant, dealID)
	if err != nil {
		return nil, err
	}
	if opts.ExpectedVersion != 0 && deal.Version != opts.ExpectedVersion {
		return nil, fmt.Errorf("%w: deal %s is at version %d, expected %d", ErrConflict, deal.ID, deal.Version, opts.ExpectedVersion)
	}
	if deal.StageID == target.ID {
		return &MoveResult{Deal: deal}, nil
	}

	from := set.id(deal.StageID)
	act, err := s.transition(ctx, deal, from, target, transitionOpts{
		kind:        TypeStageMoved,
		triggeredBy: opts.TriggeredBy,
		actorID:     opts.ActorID,
		description: fmt.Sprintf("Moved from %s to %s", stageLabel(from), stageLabel(target)),
	})
	if err != nil {
		return nil, err
	}
	return &MoveResult{Deal: deal, Activity: act}, nil
}

type transitionOpts struct {
	kind        string
	triggeredBy string
	actorID     string
	description string
}

// transition writes deal's move from -> to and its ledger entry as one
// unit. deal is the snapshot the caller decided on; if the stored row no
// longer matches its version and stage the write is abandoned with
// ErrConflict and nothing is changed. On success deal is updated in place.
func (s *Service) transition(ctx context.Context, deal *models.Deal, from, to models.Stage, opts transitionOpts) (*models.Activity, error) {
	now := s.now()
	next := deal.Version + 1
	act := &models.Activity{
		ID:          s.newID(),
		TenantID:    deal.TenantID,
		DealID:      deal.ID,
		Sequence:    next,
		Type:        opts.kind,
		Description: opts.description,
		FromStageID: stringPtr(from.ID),
		ToStageID:   stringPtr(to.ID),
		TriggeredBy: opts.triggeredBy,
		ActorID:     opts.actorID,
		CreatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := casDealStage(tx, deal, to.ID, now); err != nil {
			return err
		}
		return appendActivity(tx, act)
	})
	if err = txErr("move deal", err); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger(ctx).Warnw("deal move conflict", "tenant", deal.TenantID, "deal", deal.ID, "version", deal.Version, "to", to.Slug)
		}
		return nil, err
	}

	deal.StageID = to.ID
	deal.Version = next
	deal.StageEnteredAt = &now
	deal.UpdatedAt = now
	s.logger(ctx).Debugw("deal moved", "tenant", deal.TenantID, "deal", deal.ID, "from", from.Slug, "to", to.Slug, "type", opts.kind, "triggered_by", opts.triggeredBy)
	s.publish(ctx, dealEvent(moveEventType(to.Slug), deal, act, from, to))
	return act, nil
}

// casDealStage sets the deal's stage and bumps its version only if the
// row still has the snapshot's version and stage.
func casDealStage(tx *gorm.DB, deal *models.Deal, toStageID string, now time.Time) error {
	res := tx.Model(&models.Deal{}).
		Where("id = ? AND tenant_id = ? AND version = ? AND stage_id = ?", deal.ID, deal.TenantID, deal.Version, deal.StageID).
		Updates(map[string]interface{}{
			"stage_id":         toStageID,
			"version":          deal.Version + 1,
			"stage_entered_at": now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return storeErr("update deal stage", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: deal %s changed since version %d", ErrConflict, deal.ID, deal.Version)
	}
	return nil
}

// appendActivity inserts a ledger row. A duplicate (deal, sequence) means
// another writer appended first.
func appendActivity(tx *gorm.DB, act *models.Activity) error {
	if err := tx.Create(act).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: activity sequence %d already taken for deal %s", ErrConflict, act.Sequence, act.DealID)
		}
		return storeErr("append activity", err)
	}
	return nil
}

func moveEventType(toSlug string) string {
	switch toSlug {
	case SlugWon:
		return events.TypeDealWon
	case SlugLost:
		return events.TypeDealLost
	default:
		return events.TypeDealMoved
	}
}

func stageLabel(st models.Stage) string {
	if st.Name != "" {
		return st.Name
	}
	return st.ID
}
