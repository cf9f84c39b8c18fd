package service

import (
	"context"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
)

// currentFeeSchedule selects the schedule in force at now. Without any
// configured schedule the built-in default applies.
func (svc *EscrowService) currentFeeSchedule(ctx context.Context, idb bun.IDB, now time.Time) (models.FeeSchedule, error) {
	schedules := []models.FeeSchedule{}
	err := idb.NewSelect().Model(&schedules).
		Where("is_active = ?", true).
		Where("effective_from <= ?", now).
		Scan(ctx)
	if err != nil {
		return models.FeeSchedule{}, err
	}
	return models.CurrentFeeSchedule(schedules, now), nil
}

// checkAmountCoversFee refuses amounts the schedule in force would consume
// entirely in fees.
func (svc *EscrowService) checkAmountCoversFee(ctx context.Context, idb bun.IDB, amount int64, now time.Time) error {
	schedule, err := svc.currentFeeSchedule(ctx, idb, now)
	if err != nil {
		return err
	}
	_, err = models.ChargeableFee(amount, schedule)
	return err
}

func (svc *EscrowService) CurrentFeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	return svc.currentFeeSchedule(ctx, svc.DB, svc.now())
}

func (svc *EscrowService) ListFeeSchedules(ctx context.Context) ([]models.FeeSchedule, error) {
	schedules := []models.FeeSchedule{}
	err := svc.DB.NewSelect().Model(&schedules).OrderExpr("effective_from DESC, id DESC").Scan(ctx)
	return schedules, err
}

func validateFeeSchedule(s *models.FeeSchedule) error {
	switch s.FeeType {
	case common.FeeTypePercentage:
		if s.RateBps < 0 || s.RateBps > common.BasisPointsScale {
			return fmt.Errorf("rate must be between 0 and %d basis points: %w", common.BasisPointsScale, common.ErrInvalidAmount)
		}
	case common.FeeTypeFixed:
		if s.FixedAmount < 0 {
			return fmt.Errorf("fixed fee cannot be negative: %w", common.ErrInvalidAmount)
		}
	default:
		return fmt.Errorf("unknown fee type %q: %w", s.FeeType, common.ErrInvalidState)
	}
	if s.MinFee != nil && s.MaxFee != nil && *s.MinFee > *s.MaxFee {
		return fmt.Errorf("min fee exceeds max fee: %w", common.ErrInvalidAmount)
	}
	if !s.EffectiveTo.IsZero() && !s.EffectiveTo.Time.After(s.EffectiveFrom) {
		return fmt.Errorf("schedule ends before it starts: %w", common.ErrInvalidState)
	}
	return nil
}

// CreateFeeSchedule adds a schedule. Existing escrows keep the fee frozen at
// their creation.
func (svc *EscrowService) CreateFeeSchedule(ctx context.Context, s *models.FeeSchedule) error {
	if s.EffectiveFrom.IsZero() {
		s.EffectiveFrom = svc.now()
	}
	if err := validateFeeSchedule(s); err != nil {
		return err
	}
	s.CreatedAt = svc.now()
	_, err := svc.DB.NewInsert().Model(s).Exec(ctx)
	return err
}

type FeeQuote struct {
	Amount         int64              `json:"amount"`
	Fee            int64              `json:"fee"`
	ProviderAmount int64              `json:"provider_amount"`
	// Total is amount plus fee.
	Total          int64              `json:"total"`
	Currency       string             `json:"currency"`
	Schedule       models.FeeSchedule `json:"schedule"`
}

func (svc *EscrowService) QuoteFee(ctx context.Context, amount int64) (*FeeQuote, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	schedule, err := svc.CurrentFeeSchedule(ctx)
	if err != nil {
		return nil, err
	}
	fee := models.CalculateFee(amount, schedule)
	return &FeeQuote{
		Amount:         amount,
		Fee:            fee,
		ProviderAmount: amount - fee,
		Total:          amount + fee,
		Currency:       svc.Config.BaseCurrency,
		Schedule:       schedule,
	}, nil
}
