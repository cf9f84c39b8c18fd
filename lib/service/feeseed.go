package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/homechain/escrowhub/db/models"
	"gopkg.in/yaml.v3"
)

type feeScheduleFile struct {
	Schedules []struct {
		Name          string `yaml:"name"`
		Type          string `yaml:"type"`
		RateBps       int64  `yaml:"rate_bps"`
		FixedAmount   int64  `yaml:"fixed_amount"`
		MinFee        *int64 `yaml:"min_fee"`
		MaxFee        *int64 `yaml:"max_fee"`
		EffectiveFrom string `yaml:"effective_from"`
		EffectiveTo   string `yaml:"effective_to"`
	} `yaml:"schedules"`
}

// ParseFeeSchedules reads schedules from YAML:
//
//	schedules:
//	  - name: standard
//	    type: PERCENTAGE
//	    rate_bps: 500
//	    min_fee: 100
//	    max_fee: 5000
//	    effective_from: 2024-01-01
func ParseFeeSchedules(raw []byte) ([]models.FeeSchedule, error) {
	file := feeScheduleFile{}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	schedules := make([]models.FeeSchedule, 0, len(file.Schedules))
	for _, entry := range file.Schedules {
		from, err := time.Parse(models.DateLayout, entry.EffectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: effective_from: %w", entry.Name, err)
		}
		s := models.FeeSchedule{
			Name:          entry.Name,
			FeeType:       entry.Type,
			RateBps:       entry.RateBps,
			FixedAmount:   entry.FixedAmount,
			MinFee:        entry.MinFee,
			MaxFee:        entry.MaxFee,
			IsActive:      true,
			EffectiveFrom: from,
		}
		if entry.EffectiveTo != "" {
			to, err := time.Parse(models.DateLayout, entry.EffectiveTo)
			if err != nil {
				return nil, fmt.Errorf("schedule %q: effective_to: %w", entry.Name, err)
			}
			s.EffectiveTo.Time = to
		}
		if err := validateFeeSchedule(&s); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", entry.Name, err)
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// SeedFeeSchedules loads the schedules of path into an empty fee schedule table.
func (svc *EscrowService) SeedFeeSchedules(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	schedules, err := ParseFeeSchedules(raw)
	if err != nil {
		return 0, err
	}
	count, err := svc.DB.NewSelect().Model((*models.FeeSchedule)(nil)).Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		svc.Logger.Infof("Fee schedules already present, skipping seed from %s", path)
		return 0, nil
	}
	for i := range schedules {
		schedules[i].CreatedAt = svc.now()
		if _, err := svc.DB.NewInsert().Model(&schedules[i]).Exec(ctx); err != nil {
			return i, err
		}
	}
	svc.Logger.Infof("Seeded %d fee schedules from %s", len(schedules), path)
	return len(schedules), nil
}
