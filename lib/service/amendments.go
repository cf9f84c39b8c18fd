package service

import (
	"context"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
)

type AmendmentParams struct {
	Title                  string
	Description            string
	ProposedTerms          string
	ProposedSpecialClauses string
	ProposedEndDate        time.Time
	ProposedPaymentAmount  int64
}

func (svc *EscrowService) ProposeAmendment(ctx context.Context, contractID, userID int64, p AmendmentParams) (*models.Amendment, error) {
	contract, err := svc.FindContractForParty(ctx, contractID, userID)
	if err != nil {
		return nil, err
	}
	if contract.Status != common.ContractStatusPending && contract.Status != common.ContractStatusActive {
		return nil, fmt.Errorf("amend contract in status %s: %w", contract.Status, common.ErrInvalidState)
	}
	amendment := &models.Amendment{
		ContractID:             contract.ID,
		ProposedBy:             userID,
		Title:                  p.Title,
		Description:            p.Description,
		ProposedTerms:          p.ProposedTerms,
		ProposedSpecialClauses: p.ProposedSpecialClauses,
		ProposedPaymentAmount:  p.ProposedPaymentAmount,
		Status:                 common.AmendmentStatusPending,
		CreatedAt:              svc.now(),
	}
	if !p.ProposedEndDate.IsZero() {
		amendment.ProposedEndDate = bun.NullTime{Time: p.ProposedEndDate}
	}
	if !amendment.HasChanges() {
		return nil, fmt.Errorf("amendment proposes no change: %w", common.ErrInvalidState)
	}
	if p.ProposedPaymentAmount < 0 {
		return nil, common.ErrInvalidAmount
	}
	if p.ProposedPaymentAmount > 0 && contract.Status != common.ContractStatusPending {
		return nil, fmt.Errorf("payment amount can only change before activation: %w", common.ErrInvalidState)
	}
	if p.ProposedPaymentAmount > 0 {
		if err := svc.checkAmountCoversFee(ctx, svc.DB, p.ProposedPaymentAmount, svc.now()); err != nil {
			return nil, err
		}
	}
	if _, err := svc.DB.NewInsert().Model(amendment).Exec(ctx); err != nil {
		return nil, err
	}
	return amendment, nil
}

func (svc *EscrowService) findAmendment(ctx context.Context, idb bun.IDB, id int64) (*models.Amendment, error) {
	amendment := &models.Amendment{}
	if err := idb.NewSelect().Model(amendment).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "amendment", id)
	}
	return amendment, nil
}

func (svc *EscrowService) ListAmendments(ctx context.Context, contractID int64) ([]models.Amendment, error) {
	amendments := []models.Amendment{}
	err := svc.DB.NewSelect().Model(&amendments).
		Where("contract_id = ?", contractID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	return amendments, err
}

// updateAmendment writes the amendment and, when it became APPROVED, the
// amended contract in the same database transaction.
func (svc *EscrowService) updateAmendment(ctx context.Context, id int64, mutate func(tx bun.Tx, c *models.Contract, a *models.Amendment) (applied bool, err error)) (*models.Amendment, error) {
	var amendment *models.Amendment
	err := svc.retryOnConflict(func() error {
		return svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			a, err := svc.findAmendment(ctx, tx, id)
			if err != nil {
				return err
			}
			c, err := svc.findContract(ctx, tx, a.ContractID)
			if err != nil {
				return err
			}
			prevAmendment, prevContract := a.Revision, c.Revision
			applied, err := mutate(tx, c, a)
			if err != nil {
				return err
			}
			a.Revision++
			if err := updateWithRevision(ctx, tx, a, prevAmendment); err != nil {
				return err
			}
			if applied {
				c.Revision++
				if err := updateWithRevision(ctx, tx, c, prevContract); err != nil {
					return err
				}
			}
			amendment = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return amendment, nil
}

// ApproveAmendment records the approval of userID. The second approval
// applies the changes to the contract and bumps its version.
func (svc *EscrowService) ApproveAmendment(ctx context.Context, id, userID int64) (*models.Amendment, error) {
	return svc.updateAmendment(ctx, id, func(tx bun.Tx, c *models.Contract, a *models.Amendment) (bool, error) {
		party, err := c.PartyOf(userID)
		if err != nil {
			return false, err
		}
		now := svc.now()
		approved, err := a.Approve(party, now)
		if err != nil || !approved {
			return false, err
		}
		if a.ProposedPaymentAmount > 0 {
			if err := svc.checkAmountCoversFee(ctx, tx, a.ProposedPaymentAmount, now); err != nil {
				return false, err
			}
		}
		if err := c.ApplyAmendment(a, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (svc *EscrowService) RejectAmendment(ctx context.Context, id, userID int64, reason string) (*models.Amendment, error) {
	return svc.updateAmendment(ctx, id, func(tx bun.Tx, c *models.Contract, a *models.Amendment) (bool, error) {
		if _, err := c.PartyOf(userID); err != nil {
			return false, err
		}
		return false, a.Reject(userID, reason, svc.now())
	})
}
