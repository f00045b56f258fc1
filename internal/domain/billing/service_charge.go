package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/pkg/money"
)

// CreateCharge records a billable event against an open encounter at the
// catalog item's current price.
func (s *Service) CreateCharge(ctx context.Context, in CreateChargeInput) (*Charge, error) {
	if in.EncounterID == uuid.Nil {
		return nil, apperr.Validation("encounter_id is required")
	}
	if in.CatalogItemID == uuid.Nil {
		return nil, apperr.Validation("catalog_item_id is required")
	}
	if !validSourceTypes[in.SourceType] {
		return nil, apperr.Validation("invalid source_type: %q", in.SourceType)
	}
	if !in.Quantity.IsPositive() {
		return nil, apperr.Validation("quantity must be greater than 0")
	}
	if !in.Quantity.Equal(money.Round(in.Quantity)) {
		return nil, apperr.Validation("quantity supports at most 2 decimal places")
	}

	var ch *Charge
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		enc, err := s.encounters.Get(ctx, in.EncounterID)
		if err != nil {
			return err
		}
		if !enc.IsOpen() {
			return apperr.InvalidState("encounter %s is %s", enc.EncounterNo, enc.Status)
		}
		item, err := s.catalog.GetItem(ctx, in.CatalogItemID)
		if err != nil {
			return err
		}
		if !item.Active {
			return apperr.InvalidState("catalog item %s is inactive", item.Code)
		}

		no, err := s.chargeNos.Next(ctx, s.charges.NumberExists)
		if err != nil {
			return err
		}
		ch = &Charge{
			ID:            uuid.New(),
			ChargeNo:      no,
			EncounterID:   in.EncounterID,
			CatalogItemID: item.ID,
			SourceType:    in.SourceType,
			SourceID:      in.SourceID,
			Quantity:      in.Quantity,
			UnitPrice:     item.UnitPrice,
			Amount:        money.Extend(in.Quantity, item.UnitPrice),
			Status:        ChargeUnbilled,
			ChargedAt:     s.now().UTC(),
		}
		return s.charges.Create(ctx, ch)
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// CancelCharge cancels a charge that has not been billed yet.
func (s *Service) CancelCharge(ctx context.Context, id uuid.UUID) (*Charge, error) {
	var ch *Charge
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.charges.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != ChargeUnbilled {
			return apperr.InvalidState("charge %s is %s, only UNBILLED charges can be cancelled", c.ChargeNo, c.Status)
		}
		if _, err := s.charges.SetStatus(ctx, []uuid.UUID{id}, ChargeUnbilled, ChargeCancelled); err != nil {
			return err
		}
		c.Status = ChargeCancelled
		ch = c
		return nil
	})
	return ch, err
}

func (s *Service) GetCharge(ctx context.Context, id uuid.UUID) (*Charge, error) {
	return s.charges.GetByID(ctx, id)
}

func (s *Service) ListChargesByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Charge, error) {
	if _, err := s.encounters.Get(ctx, encounterID); err != nil {
		return nil, err
	}
	return s.charges.ListByEncounter(ctx, encounterID)
}

func (s *Service) ListCatalogItems(ctx context.Context, activeOnly bool) ([]*CatalogItem, error) {
	return s.catalog.ListItems(ctx, activeOnly)
}
