package models

import (
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

// FeeSchedule : platform fee policy effective over a date range
type FeeSchedule struct {
	ID            int64        `json:"id" bun:",pk,autoincrement"`
	Name          string       `json:"name" bun:",notnull"`
	FeeType       string       `json:"fee_type" bun:",notnull"`
	RateBps       int64        `json:"rate_bps" bun:",notnull,default:0"`
	FixedAmount   int64        `json:"fixed_amount" bun:",notnull,default:0"`
	MinFee        *int64       `json:"min_fee,omitempty" bun:",nullzero"`
	MaxFee        *int64       `json:"max_fee,omitempty" bun:",nullzero"`
	IsActive      bool         `json:"is_active" bun:",notnull,default:true"`
	EffectiveFrom time.Time    `json:"effective_from" bun:",notnull"`
	EffectiveTo   bun.NullTime `json:"effective_to"`
	CreatedAt     time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}

// DefaultFeeSchedule applies when no schedule is configured: 5%, min 1.00, max 50.00.
func DefaultFeeSchedule() FeeSchedule {
	lo, hi := int64(common.DefaultFeeMin), int64(common.DefaultFeeMax)
	return FeeSchedule{
		Name:    "default",
		FeeType: common.FeeTypePercentage,
		RateBps: common.DefaultFeeRateBps,
		MinFee:  &lo,
		MaxFee:  &hi,
	}
}

func (s *FeeSchedule) IsEffectiveAt(t time.Time) bool {
	if !s.IsActive || s.EffectiveFrom.After(t) {
		return false
	}
	return s.EffectiveTo.IsZero() || s.EffectiveTo.Time.After(t)
}

// CalculateFee returns the platform fee for amount under schedule s,
// rounded half up to minor units.
func CalculateFee(amount int64, s FeeSchedule) int64 {
	if s.FeeType == common.FeeTypeFixed {
		return s.FixedAmount
	}
	if amount <= 0 {
		return 0
	}
	fee := (amount*s.RateBps + common.BasisPointsScale/2) / common.BasisPointsScale
	if s.MinFee != nil && fee < *s.MinFee {
		fee = *s.MinFee
	}
	if s.MaxFee != nil && fee > *s.MaxFee {
		fee = *s.MaxFee
	}
	return fee
}

// ChargeableFee is CalculateFee for an amount that must leave the provider
// something. A fee at or above amount is ErrInvalidAmount.
func ChargeableFee(amount int64, s FeeSchedule) (int64, error) {
	fee := CalculateFee(amount, s)
	if fee >= amount {
		return fee, fmt.Errorf("fee %s consumes the whole amount %s: %w", FormatAmount(fee), FormatAmount(amount), common.ErrInvalidAmount)
	}
	return fee, nil
}

// CurrentFeeSchedule picks the most recently effective schedule at now,
// falling back to the default.
func CurrentFeeSchedule(schedules []FeeSchedule, now time.Time) FeeSchedule {
	var current *FeeSchedule
	for i := range schedules {
		s := &schedules[i]
		if !s.IsEffectiveAt(now) {
			continue
		}
		if current == nil || s.EffectiveFrom.After(current.EffectiveFrom) ||
			(s.EffectiveFrom.Equal(current.EffectiveFrom) && s.ID > current.ID) {
			current = s
		}
	}
	if current == nil {
		return DefaultFeeSchedule()
	}
	return *current
}
