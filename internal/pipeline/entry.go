package pipeline

import (
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/models"
)

// Entry is a decoded activity ledger row. The concrete type is one of
// Created, Moved or Automated; each carries only the stage fields that
// are meaningful to it.
type Entry interface {
	Base() EntryBase
	// Target is the stage the deal was in once the entry was applied.
	Target() string
}

// EntryBase holds the fields shared by every entry.
type EntryBase struct {
	ID          string
	TenantID    string
	DealID      string
	Sequence    int64
	Description string
	TriggeredBy string
	ActorID     string
	CreatedAt   time.Time
	Undone      bool
	UndoneAt    *time.Time
}

// Base implements Entry.
func (b EntryBase) Base() EntryBase { return b }

// Created records a deal entering the pipeline. It has no prior stage and
// therefore cannot be undone.
type Created struct {
	EntryBase
	Stage string
}

// Target implements Entry.
func (c Created) Target() string { return c.Stage }

// Moved records a stage change made by a user, including undo
// counter-entries.
type Moved struct {
	EntryBase
	From string
	To   string
}

// Target implements Entry.
func (m Moved) Target() string { return m.To }

// Automated records a stage change made by an automation rule or the
// stale sweep.
type Automated struct {
	EntryBase
	From string
	To   string
}

// Target implements Entry.
func (a Automated) Target() string { return a.To }

// DecodeEntry converts a ledger row into its variant.
func DecodeEntry(a models.Activity) (Entry, error) {
	base := EntryBase{
		ID:          a.ID,
		TenantID:    a.TenantID,
		DealID:      a.DealID,
		Sequence:    a.Sequence,
		Description: a.Description,
		TriggeredBy: a.TriggeredBy,
		ActorID:     a.ActorID,
		CreatedAt:   a.CreatedAt,
		Undone:      a.Undone,
		UndoneAt:    a.UndoneAt,
	}
	switch a.Type {
	case TypeDealCreated:
		if a.ToStageID == nil {
			return nil, fmt.Errorf("pipeline: activity %s: creation without stage", a.ID)
		}
		return Created{EntryBase: base, Stage: *a.ToStageID}, nil
	case TypeStageMoved, TypeAutomatedAction:
		if a.FromStageID == nil || a.ToStageID == nil {
			return nil, fmt.Errorf("pipeline: activity %s: %s without from/to stage", a.ID, a.Type)
		}
		if a.Type == TypeStageMoved {
			return Moved{EntryBase: base, From: *a.FromStageID, To: *a.ToStageID}, nil
		}
		return Automated{EntryBase: base, From: *a.FromStageID, To: *a.ToStageID}, nil
	default:
		return nil, fmt.Errorf("pipeline: activity %s: unknown type %q", a.ID, a.Type)
	}
}

// revertStage returns the stage an undo of e restores.
func revertStage(e Entry) (string, error) {
	switch v := e.(type) {
	case Moved:
		return v.From, nil
	case Automated:
		return v.From, nil
	case Created:
		return "", ErrCannotUndoCreation
	default:
		return "", fmt.Errorf("pipeline: unsupported entry %T", e)
	}
}

func stringPtr(s string) *string { return &s }
