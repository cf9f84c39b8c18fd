package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db"
	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
)

// errUnchanged is returned by a mutate callback that found nothing to do.
// The surrounding update then commits without writing.
var errUnchanged = errors.New("unchanged")

// CreateContractParams is the tuple handed over by the job subsystem when
// an application is accepted.
type CreateContractParams struct {
	JobID            int64
	RequesterID      int64
	ProviderID       int64
	RequesterAddress string
	ProviderAddress  string
	Title            string
	Description      string
	Terms            string
	SpecialClauses   string
	Notes            string
	PaymentAmount    int64
	PaymentSchedule  string
	StartDate        time.Time
	EndDate          time.Time
	// Draft keeps the contract unpublished. Templates are always drafts.
	Draft      bool
	IsTemplate bool
}

func (p *CreateContractParams) validate() error {
	if p.PaymentAmount <= 0 {
		return common.ErrInvalidAmount
	}
	if p.RequesterID == 0 || p.ProviderID == 0 || p.RequesterID == p.ProviderID {
		return fmt.Errorf("a contract needs two distinct parties: %w", common.ErrNotAParty)
	}
	if p.Terms == "" {
		return fmt.Errorf("terms are required: %w", common.ErrInvalidState)
	}
	switch p.PaymentSchedule {
	case "", common.PaymentScheduleFull, common.PaymentScheduleHalf, common.PaymentScheduleMilestone, common.PaymentScheduleWeekly:
	default:
		return fmt.Errorf("unknown payment schedule %q: %w", p.PaymentSchedule, common.ErrInvalidState)
	}
	if !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("end date before start date: %w", common.ErrInvalidState)
	}
	return nil
}

func (svc *EscrowService) CreateContract(ctx context.Context, p CreateContractParams) (*models.Contract, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	now := svc.now()
	if err := svc.checkAmountCoversFee(ctx, svc.DB, p.PaymentAmount, now); err != nil {
		return nil, err
	}
	contract := &models.Contract{
		JobID:            p.JobID,
		RequesterID:      p.RequesterID,
		ProviderID:       p.ProviderID,
		RequesterAddress: p.RequesterAddress,
		ProviderAddress:  p.ProviderAddress,
		Title:            p.Title,
		Description:      p.Description,
		Terms:            p.Terms,
		SpecialClauses:   p.SpecialClauses,
		Notes:            p.Notes,
		PaymentAmount:    p.PaymentAmount,
		PaymentSchedule:  p.PaymentSchedule,
		StartDate:        p.StartDate,
		Status:           common.ContractStatusPending,
		IsTemplate:       p.IsTemplate,
		Version:          1,
		CreatedAt:        now,
	}
	if contract.PaymentSchedule == "" {
		contract.PaymentSchedule = common.PaymentScheduleFull
	}
	if contract.StartDate.IsZero() {
		contract.StartDate = now
	}
	if !p.EndDate.IsZero() {
		contract.EndDate = bun.NullTime{Time: p.EndDate}
	}
	if p.Draft || p.IsTemplate {
		contract.Status = common.ContractStatusDraft
	}
	if _, err := svc.DB.NewInsert().Model(contract).Exec(ctx); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("job %d already has a contract: %w", p.JobID, common.ErrInvalidState)
		}
		return nil, err
	}
	return contract, nil
}

func (svc *EscrowService) findContract(ctx context.Context, idb bun.IDB, id int64) (*models.Contract, error) {
	contract := &models.Contract{}
	if err := idb.NewSelect().Model(contract).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "contract", id)
	}
	return contract, nil
}

func (svc *EscrowService) FindContract(ctx context.Context, id int64) (*models.Contract, error) {
	return svc.findContract(ctx, svc.DB, id)
}

// FindContractForParty returns the contract only to one of its parties.
func (svc *EscrowService) FindContractForParty(ctx context.Context, id, userID int64) (*models.Contract, error) {
	contract, err := svc.findContract(ctx, svc.DB, id)
	if err != nil {
		return nil, err
	}
	if _, err := contract.PartyOf(userID); err != nil {
		return nil, err
	}
	return contract, nil
}

func (svc *EscrowService) ListContracts(ctx context.Context, userID int64, status string) ([]models.Contract, error) {
	contracts := []models.Contract{}
	query := svc.DB.NewSelect().Model(&contracts).
		Where("requester_id = ? OR provider_id = ?", userID, userID).
		OrderExpr("created_at DESC, id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Scan(ctx)
	return contracts, err
}

// updateContract loads the contract, lets mutate change it and writes it
// back with a revision check. Lost races are retried from a fresh read.
func (svc *EscrowService) updateContract(ctx context.Context, id int64, mutate func(tx bun.Tx, c *models.Contract) error) (*models.Contract, error) {
	var contract *models.Contract
	err := svc.retryOnConflict(func() error {
		return svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			c, err := svc.findContract(ctx, tx, id)
			if err != nil {
				return err
			}
			prev := c.Revision
			if err := mutate(tx, c); err != nil {
				return err
			}
			c.Revision++
			if err := updateWithRevision(ctx, tx, c, prev); err != nil {
				return err
			}
			contract = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

type SignResult struct {
	Contract  *models.Contract `json:"contract"`
	Escrow    *models.Escrow   `json:"escrow,omitempty"`
	Activated bool             `json:"activated"`
}

// SignContract records the signature of userID. The signature that makes
// the contract ACTIVE also creates the local escrow in the same database
// transaction; the revision check on the contract lets exactly one signer
// observe the activation. Provisioning the escrow on the settlement network
// happens after commit and never undoes the signature.
func (svc *EscrowService) SignContract(ctx context.Context, contractID, userID int64, ip string) (*SignResult, error) {
	var (
		activated bool
		escrow    *models.Escrow
	)
	contract, err := svc.updateContract(ctx, contractID, func(tx bun.Tx, c *models.Contract) error {
		activated, escrow = false, nil
		now := svc.now()
		ok, err := c.Sign(userID, ip, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		schedule, err := svc.currentFeeSchedule(ctx, tx, now)
		if err != nil {
			return err
		}
		fee, err := models.ChargeableFee(c.PaymentAmount, schedule)
		if err != nil {
			return err
		}
		e := models.NewEscrow(c, fee, schedule.ID, now)
		if _, err := tx.NewInsert().Model(e).Exec(ctx); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("escrow for contract %d: %w", c.ID, common.ErrConcurrentUpdate)
			}
			return err
		}
		activated, escrow = true, e
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := &SignResult{Contract: contract, Escrow: escrow, Activated: activated}
	if !activated {
		return result, nil
	}
	svc.Logger.Infof("Contract %d activated, escrow %d created with fee %s", contract.ID, escrow.ID, models.FormatAmount(escrow.PlatformFee))
	svc.emit(ctx, Event{
		Type:       EventContractActivated,
		JobID:      contract.JobID,
		ContractID: contract.ID,
		EscrowID:   escrow.ID,
		Amount:     contract.PaymentAmount,
	})
	provisioned, err := svc.ProvisionEscrow(ctx, escrow.ID)
	if err != nil {
		svc.Logger.Errorf("Provisioning escrow %d for contract %d failed, left to reconciliation: %v", escrow.ID, contract.ID, err)
		return result, nil
	}
	result.Escrow = provisioned
	return result, nil
}

func (svc *EscrowService) PublishContract(ctx context.Context, contractID, userID int64) (*models.Contract, error) {
	return svc.updateContract(ctx, contractID, func(tx bun.Tx, c *models.Contract) error {
		if userID != c.RequesterID {
			return common.ErrNotAParty
		}
		return c.Publish(svc.now())
	})
}

func (svc *EscrowService) CompleteContract(ctx context.Context, contractID, userID int64) (*models.Contract, error) {
	contract, err := svc.updateContract(ctx, contractID, func(tx bun.Tx, c *models.Contract) error {
		if _, err := c.PartyOf(userID); err != nil {
			return err
		}
		return c.Complete(svc.now())
	})
	if err != nil {
		return nil, err
	}
	svc.emit(ctx, Event{Type: EventJobCompleted, JobID: contract.JobID, ContractID: contract.ID, UserID: userID})
	return contract, nil
}

// TerminateContract ends the contract for good. A funded escrow is left as
// it is; releasing or refunding it is decided by arbitration.
func (svc *EscrowService) TerminateContract(ctx context.Context, contractID, userID int64, reason string) (*models.Contract, error) {
	contract, err := svc.updateContract(ctx, contractID, func(tx bun.Tx, c *models.Contract) error {
		if _, err := c.PartyOf(userID); err != nil {
			return err
		}
		return c.Terminate(reason, svc.now())
	})
	if err != nil {
		return nil, err
	}
	svc.emit(ctx, Event{Type: EventJobCancelled, JobID: contract.JobID, ContractID: contract.ID, UserID: userID, Reason: reason})
	return contract, nil
}

// RaiseDispute disputes the contract and freezes its escrow when the escrow
// holds funds. An escrow whose release outcome is still open is frozen
// through the contract status alone.
func (svc *EscrowService) RaiseDispute(ctx context.Context, contractID, userID int64, reason string) (*models.Contract, error) {
	var frozen *models.Escrow
	contract, err := svc.updateContract(ctx, contractID, func(tx bun.Tx, c *models.Contract) error {
		frozen = nil
		if _, err := c.PartyOf(userID); err != nil {
			return err
		}
		now := svc.now()
		if err := c.RaiseDispute(reason, now); err != nil {
			return err
		}
		e, err := svc.findEscrowByContract(ctx, tx, c.ID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Status != common.EscrowStatusFunded && e.Status != common.EscrowStatusInProgress {
			return nil
		}
		if e.ReleaseState == common.SubmissionInFlight || e.ReleaseState == common.SubmissionUnknown {
			svc.Logger.Warnf("Escrow %d has a release outcome pending, dispute of contract %d applies to the contract only", e.ID, c.ID)
			return nil
		}
		prev := e.Revision
		if err := svc.disputeEscrow(ctx, tx, e, reason, now); err != nil {
			return err
		}
		e.Revision++
		if err := updateWithRevision(ctx, tx, e, prev); err != nil {
			return err
		}
		frozen = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	ev := Event{Type: EventContractDisputed, JobID: contract.JobID, ContractID: contract.ID, UserID: userID, Reason: reason}
	if frozen != nil {
		ev.EscrowID = frozen.ID
	}
	svc.emit(ctx, ev)
	return contract, nil
}

type HashVerification struct {
	ContractID   int64  `json:"contract_id"`
	Version      int64  `json:"version"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	Valid        bool   `json:"valid"`
}

func (svc *EscrowService) VerifyContract(ctx context.Context, contractID, userID int64) (*HashVerification, error) {
	contract, err := svc.FindContractForParty(ctx, contractID, userID)
	if err != nil {
		return nil, err
	}
	computed, valid := contract.VerifyHash()
	return &HashVerification{
		ContractID:   contract.ID,
		Version:      contract.Version,
		StoredHash:   contract.ContractHash,
		ComputedHash: computed,
		Valid:        valid,
	}, nil
}

type ContractSummary struct {
	Summary       string `json:"summary"`
	DaysRemaining int    `json:"days_remaining"`
	Milestones    int    `json:"milestones"`
	Completed     int    `json:"milestones_completed"`
}

func (svc *EscrowService) SummarizeContract(ctx context.Context, contractID, userID int64) (*ContractSummary, error) {
	contract, err := svc.FindContractForParty(ctx, contractID, userID)
	if err != nil {
		return nil, err
	}
	milestones, err := svc.ListMilestones(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	summary := &ContractSummary{
		Summary:       contract.Summary(),
		DaysRemaining: contract.DaysRemaining(svc.now()),
		Milestones:    len(milestones),
	}
	for _, m := range milestones {
		if m.Status == common.MilestoneStatusCompleted {
			summary.Completed++
		}
	}
	return summary, nil
}
