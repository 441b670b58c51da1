package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

// Trigger kinds raised by external collaborators.
const (
	TriggerBookingCreated = "booking_created"
	TriggerQuoteSent      = "quote_sent"
	TriggerInvoicePaid    = "invoice_paid"
)

// Trigger is an external event that may drive an automatic transition.
type Trigger struct {
	Kind       string              `json:"kind"`
	DealID     string              `json:"deal_id"`
	CustomerID *string             `json:"customer_id"`
	Title      string              `json:"title"`
	Value      decimal.NullDecimal `json:"value"`
}

// TriggerResult reports what a trigger did. Applied is false with a
// Reason when the rule is disabled or the deal is already past the
// trigger's target.
type TriggerResult struct {
	Applied  bool             `json:"applied"`
	Reason   string           `json:"reason,omitempty"`
	Deal     *models.Deal     `json:"deal,omitempty"`
	Activity *models.Activity `json:"activity,omitempty"`
}

// HandleTrigger applies the tenant's automation rules to an external event.
func (s *Service) HandleTrigger(ctx context.Context, tenant string, t Trigger) (res *TriggerResult, err error) {
	defer func(start time.Time) { s.observe("trigger_"+t.Kind, start, err) }(time.Now())

	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	switch t.Kind {
	case TriggerBookingCreated:
		if t.Title == "" {
			return nil, validationf("booking_created requires a title")
		}
	case TriggerQuoteSent, TriggerInvoicePaid:
		if t.DealID == "" {
			return nil, validationf("%s requires a deal id", t.Kind)
		}
	default:
		return nil, validationf("unknown trigger kind %q", t.Kind)
	}

	settings, err := s.GetAutomationSettings(ctx, tenant)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case TriggerBookingCreated:
		if !settings.AutoCreateOnBooking {
			return &TriggerResult{Reason: "auto_create_on_booking is disabled"}, nil
		}
		deal, err := s.CreateDeal(ctx, tenant, CreateDealInput{
			Title:       t.Title,
			CustomerID:  t.CustomerID,
			Value:       t.Value,
			Origin:      OriginAutomated,
			TriggeredBy: TriggeredByAutomation,
		})
		if err != nil {
			return nil, err
		}
		return &TriggerResult{Applied: true, Deal: deal}, nil

	case TriggerQuoteSent:
		if !settings.AdvanceOnQuoteSent {
			return &TriggerResult{Reason: "advance_on_quote_sent is disabled"}, nil
		}
		return s.advance(ctx, tenant, t.DealID, SlugQuoted, "quote sent", true)

	default:
		if !settings.AdvanceOnInvoicePaid {
			return &TriggerResult{Reason: "advance_on_invoice_paid is disabled"}, nil
		}
		return s.advance(ctx, tenant, t.DealID, SlugWon, "invoice paid", false)
	}
}

// advance moves a deal to toSlug as an automated action. With forwardOnly
// the deal is left alone unless it sits in an earlier stage.
func (s *Service) advance(ctx context.Context, tenant, dealID, toSlug, cause string, forwardOnly bool) (*TriggerResult, error) {
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
	from := set.id(deal.StageID)

	if deal.StageID == target.ID {
		return &TriggerResult{Reason: fmt.Sprintf("deal is already in %s", target.Slug), Deal: deal}, nil
	}
	if forwardOnly && from.Name != "" && from.SortOrder >= target.SortOrder {
		return &TriggerResult{Reason: fmt.Sprintf("deal is already past %s", target.Slug), Deal: deal}, nil
	}

	act, err := s.transition(ctx, deal, from, target, transitionOpts{
		kind:        TypeAutomatedAction,
		triggeredBy: TriggeredByAutomation,
		description: fmt.Sprintf("Automatically moved from %s to %s: %s", stageLabel(from), stageLabel(target), cause),
	})
	if err != nil {
		return nil, err
	}
	return &TriggerResult{Applied: true, Deal: deal, Activity: act}, nil
}
