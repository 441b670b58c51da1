package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/db"
	"github.com/fixaren/backoffice/internal/models"
	"gorm.io/gorm/clause"
)

// Default stage slugs.
const (
	SlugLead      = "lead"
	SlugContacted = "contacted"
	SlugQuoted    = "quoted"
	SlugWon       = "won"
	SlugLost      = "lost"
)

// StageDef describes one default pipeline stage.
type StageDef struct {
	Slug      string
	Name      string
	Color     string
	SortOrder int
}

// DefaultStages is the fixed set seeded for every tenant, left to right.
var DefaultStages = []StageDef{
	{Slug: SlugLead, Name: "Lead", Color: "#94a3b8", SortOrder: 10},
	{Slug: SlugContacted, Name: "Contacted", Color: "#60a5fa", SortOrder: 20},
	{Slug: SlugQuoted, Name: "Quoted", Color: "#f59e0b", SortOrder: 30},
	{Slug: SlugWon, Name: "Won", Color: "#22c55e", SortOrder: 40},
	{Slug: SlugLost, Name: "Lost", Color: "#ef4444", SortOrder: 50},
}

// ListStages returns the tenant's stages ordered by sort order. It never
// seeds; a tenant that was never initialized gets an empty list.
func (s *Service) ListStages(ctx context.Context, tenant string) ([]models.Stage, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	var stages []models.Stage
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenant).
		Order("sort_order ASC, slug ASC").
		Find(&stages).Error
	if err != nil {
		return nil, storeErr("list stages", err)
	}
	return stages, nil
}

// EnsureDefaultStages returns the tenant's stages, seeding the default set
// on first access. Concurrent first calls are safe: the unique
// (tenant_id, slug) index makes the seed idempotent and every caller
// re-reads the committed set.
func (s *Service) EnsureDefaultStages(ctx context.Context, tenant string) (stages []models.Stage, err error) {
	defer func(start time.Time) { s.observe("ensure_stages", start, err) }(time.Now())

	stages, err = s.ListStages(ctx, tenant)
	if err != nil || len(stages) > 0 {
		return stages, err
	}
	return s.seedStages(ctx, tenant)
}

func (s *Service) seedStages(ctx context.Context, tenant string) ([]models.Stage, error) {
	now := s.now()
	rows := make([]models.Stage, 0, len(DefaultStages))
	for _, def := range DefaultStages {
		rows = append(rows, models.Stage{
			ID:        s.newID(),
			TenantID:  tenant,
			Name:      def.Name,
			Slug:      def.Slug,
			Color:     def.Color,
			SortOrder: def.SortOrder,
			CreatedAt: now,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "slug"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	if err != nil && !db.IsUniqueViolation(err) {
		return nil, storeErr("seed stages", err)
	}
	if err == nil {
		s.logger(ctx).Debugw("seeded default stages", "tenant", tenant)
	}
	return s.ListStages(ctx, tenant)
}

// GetStageBySlug resolves one of the tenant's stages. An absent slug
// yields ErrUnknownStage.
func (s *Service) GetStageBySlug(ctx context.Context, tenant, slug string) (*models.Stage, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	var stage models.Stage
	res := s.db.WithContext(ctx).
		Where("tenant_id = ? AND slug = ?", tenant, slug).
		Limit(1).
		Find(&stage)
	if res.Error != nil {
		return nil, storeErr("get stage", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, slug)
	}
	return &stage, nil
}

// stageSet indexes a tenant's stages for lookups within one call.
type stageSet struct {
	ordered []models.Stage
	byID    map[string]models.Stage
	bySlug  map[string]models.Stage
}

func newStageSet(stages []models.Stage) stageSet {
	set := stageSet{
		ordered: stages,
		byID:    make(map[string]models.Stage, len(stages)),
		bySlug:  make(map[string]models.Stage, len(stages)),
	}
	for _, st := range stages {
		set.byID[st.ID] = st
		set.bySlug[st.Slug] = st
	}
	return set
}

func (set stageSet) slug(slug string) (models.Stage, error) {
	st, ok := set.bySlug[slug]
	if !ok {
		return models.Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, slug)
	}
	return st, nil
}

// id returns the stage with the given id, or a placeholder carrying only
// the id when the stage is no longer registered.
func (set stageSet) id(id string) models.Stage {
	if st, ok := set.byID[id]; ok {
		return st
	}
	return models.Stage{ID: id}
}

func (set stageSet) first() models.Stage {
	return set.ordered[0]
}

// stages loads the tenant's stage set, seeding defaults if needed.
func (s *Service) stages(ctx context.Context, tenant string) (stageSet, error) {
	stages, err := s.EnsureDefaultStages(ctx, tenant)
	if err != nil {
		return stageSet{}, err
	}
	return newStageSet(stages), nil
}
