package service

import (
	"context"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
)

func (svc *EscrowService) AddMilestone(ctx context.Context, contractID, userID int64, title, description string, amount int64, due time.Time) (*models.Milestone, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	contract, err := svc.FindContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if userID != contract.RequesterID {
		return nil, fmt.Errorf("only the requester adds milestones: %w", common.ErrNotAParty)
	}
	if contract.Status != common.ContractStatusPending && contract.Status != common.ContractStatusActive {
		return nil, fmt.Errorf("add milestone to contract in status %s: %w", contract.Status, common.ErrInvalidState)
	}
	milestone := &models.Milestone{
		ContractID:  contract.ID,
		Title:       title,
		Description: description,
		Amount:      amount,
		DueDate:     due,
		Status:      common.MilestoneStatusPending,
		CreatedAt:   svc.now(),
	}
	if _, err := svc.DB.NewInsert().Model(milestone).Exec(ctx); err != nil {
		return nil, err
	}
	return milestone, nil
}

func (svc *EscrowService) ListMilestones(ctx context.Context, contractID int64) ([]models.Milestone, error) {
	milestones := []models.Milestone{}
	err := svc.DB.NewSelect().Model(&milestones).
		Where("contract_id = ?", contractID).
		OrderExpr("due_date ASC, id ASC").
		Scan(ctx)
	return milestones, err
}

// updateMilestone guards the write with the status it read, so two
// concurrent transitions of the same milestone cannot both apply.
func (svc *EscrowService) updateMilestone(ctx context.Context, id int64, mutate func(c *models.Contract, m *models.Milestone) error) (*models.Milestone, error) {
	var milestone *models.Milestone
	err := svc.retryOnConflict(func() error {
		m := &models.Milestone{}
		err := svc.DB.NewSelect().Model(m).Relation("Contract").Where("milestone.id = ?", id).Limit(1).Scan(ctx)
		if err != nil {
			return notFound(err, "milestone", id)
		}
		prev := m.Status
		if err := mutate(m.Contract, m); err != nil {
			return err
		}
		res, err := svc.DB.NewUpdate().Model(m).
			ExcludeColumn("contract_id", "created_at").
			WherePK().
			Where("status = ?", prev).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return common.ErrConcurrentUpdate
		}
		milestone = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return milestone, nil
}

func (svc *EscrowService) StartMilestone(ctx context.Context, id, userID int64) (*models.Milestone, error) {
	return svc.updateMilestone(ctx, id, func(c *models.Contract, m *models.Milestone) error {
		if userID != c.ProviderID {
			return fmt.Errorf("only the provider starts milestones: %w", common.ErrNotAParty)
		}
		return m.Start(svc.now())
	})
}

func (svc *EscrowService) CompleteMilestone(ctx context.Context, id, userID int64, notes string) (*models.Milestone, error) {
	return svc.updateMilestone(ctx, id, func(c *models.Contract, m *models.Milestone) error {
		if userID != c.ProviderID {
			return fmt.Errorf("only the provider completes milestones: %w", common.ErrNotAParty)
		}
		return m.Complete(userID, notes, svc.now())
	})
}

func (svc *EscrowService) DisputeMilestone(ctx context.Context, id, userID int64, reason string) (*models.Milestone, error) {
	return svc.updateMilestone(ctx, id, func(c *models.Contract, m *models.Milestone) error {
		if _, err := c.PartyOf(userID); err != nil {
			return err
		}
		return m.Dispute(reason)
	})
}
