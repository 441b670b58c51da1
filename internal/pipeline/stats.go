package pipeline

import (
	"context"
	"time"

	"github.com/fixaren/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

// StageStats aggregates the deals currently in one stage.
type StageStats struct {
	StageID   string          `json:"stage_id"`
	Slug      string          `json:"slug"`
	Name      string          `json:"name"`
	Color     string          `json:"color"`
	SortOrder int             `json:"sort_order"`
	Count     int             `json:"count"`
	Value     decimal.Decimal `json:"value"`
}

// PipelineStats is a snapshot of the tenant's current pipeline. Won and
// lost are the closed stages; every other stage counts as open.
type PipelineStats struct {
	Stages         []StageStats    `json:"stages"`
	TotalCount     int             `json:"total_count"`
	TotalValue     decimal.Decimal `json:"total_value"`
	OpenCount      int             `json:"open_count"`
	OpenValue      decimal.Decimal `json:"open_value"`
	WonCount       int             `json:"won_count"`
	WonValue       decimal.Decimal `json:"won_value"`
	LostCount      int             `json:"lost_count"`
	LostValue      decimal.Decimal `json:"lost_value"`
	WinRate        float64         `json:"win_rate"`        // won / (won + lost)
	ConversionRate float64         `json:"conversion_rate"` // won / total
}

// GetPipelineStats computes per-stage counts and value sums plus funnel
// ratios from the deals as they are now. Deals without a value count
// toward counts but not sums.
func (s *Service) GetPipelineStats(ctx context.Context, tenant string) (stats *PipelineStats, err error) {
	defer func(start time.Time) { s.observe("pipeline_stats", start, err) }(time.Now())

	set, err := s.stages(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var deals []models.Deal
	err = s.db.WithContext(ctx).
		Select("id", "stage_id", "value").
		Where("tenant_id = ?", tenant).
		Find(&deals).Error
	if err != nil {
		return nil, storeErr("load deals for stats", err)
	}
	return aggregate(set.ordered, deals), nil
}

func aggregate(stages []models.Stage, deals []models.Deal) *PipelineStats {
	stats := &PipelineStats{Stages: make([]StageStats, len(stages))}
	index := make(map[string]int, len(stages))
	for i, st := range stages {
		stats.Stages[i] = StageStats{
			StageID:   st.ID,
			Slug:      st.Slug,
			Name:      st.Name,
			Color:     st.Color,
			SortOrder: st.SortOrder,
		}
		index[st.ID] = i
	}

	for _, d := range deals {
		value := decimal.Zero
		if d.Value.Valid {
			value = d.Value.Decimal
		}
		stats.TotalCount++
		stats.TotalValue = stats.TotalValue.Add(value)

		slug := ""
		if i, ok := index[d.StageID]; ok {
			stats.Stages[i].Count++
			stats.Stages[i].Value = stats.Stages[i].Value.Add(value)
			slug = stats.Stages[i].Slug
		}
		switch slug {
		case SlugWon:
			stats.WonCount++
			stats.WonValue = stats.WonValue.Add(value)
		case SlugLost:
			stats.LostCount++
			stats.LostValue = stats.LostValue.Add(value)
		default:
			stats.OpenCount++
			stats.OpenValue = stats.OpenValue.Add(value)
		}
	}

	if closed := stats.WonCount + stats.LostCount; closed > 0 {
		stats.WinRate = float64(stats.WonCount) / float64(closed)
	}
	if stats.TotalCount > 0 {
		stats.ConversionRate = float64(stats.WonCount) / float64(stats.TotalCount)
	}
	return stats
}
