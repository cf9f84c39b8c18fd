package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/settlement"
	"github.com/uptrace/bun"
)

func (svc *EscrowService) findEscrow(ctx context.Context, idb bun.IDB, id int64) (*models.Escrow, error) {
	escrow := &models.Escrow{}
	if err := idb.NewSelect().Model(escrow).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "escrow", id)
	}
	return escrow, nil
}

func (svc *EscrowService) findEscrowByContract(ctx context.Context, idb bun.IDB, contractID int64) (*models.Escrow, error) {
	escrow := &models.Escrow{}
	if err := idb.NewSelect().Model(escrow).Where("contract_id = ?", contractID).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "escrow of contract", contractID)
	}
	return escrow, nil
}

func (svc *EscrowService) FindEscrow(ctx context.Context, id int64) (*models.Escrow, error) {
	return svc.findEscrow(ctx, svc.DB, id)
}

func (svc *EscrowService) FindEscrowByContract(ctx context.Context, contractID int64) (*models.Escrow, error) {
	return svc.findEscrowByContract(ctx, svc.DB, contractID)
}

// FindEscrowForParty returns the escrow only to one of its parties.
func (svc *EscrowService) FindEscrowForParty(ctx context.Context, id, userID int64) (*models.Escrow, error) {
	escrow, err := svc.findEscrow(ctx, svc.DB, id)
	if err != nil {
		return nil, err
	}
	if _, err := escrow.PartyOf(userID); err != nil {
		return nil, err
	}
	return escrow, nil
}

// updateEscrow is the single write path of an escrow: read, mutate, write
// back under a revision check, retried on lost races. mutate may return
// errUnchanged to commit nothing; changed then reports false.
func (svc *EscrowService) updateEscrow(ctx context.Context, id int64, mutate func(tx bun.Tx, e *models.Escrow) error) (escrow *models.Escrow, changed bool, err error) {
	err = svc.retryOnConflict(func() error {
		return svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			e, err := svc.findEscrow(ctx, tx, id)
			if err != nil {
				return err
			}
			prev := e.Revision
			err = mutate(tx, e)
			if errors.Is(err, errUnchanged) {
				escrow, changed = e, false
				return nil
			}
			if err != nil {
				return err
			}
			e.Revision++
			if err := updateWithRevision(ctx, tx, e, prev); err != nil {
				return err
			}
			escrow, changed = e, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return escrow, changed, nil
}

func (svc *EscrowService) escrowTransaction(e *models.Escrow, txType, status string) *models.Transaction {
	return &models.Transaction{
		Type:           txType,
		Status:         status,
		UserID:         e.RequesterID,
		CounterpartyID: e.ProviderID,
		ContractID:     e.ContractID,
		EscrowID:       e.ID,
		Amount:         e.TotalAmount,
		CreatedAt:      svc.now(),
	}
}

func createKey(e *models.Escrow) string {
	return fmt.Sprintf("escrow-%d-create", e.ID)
}

// ProvisionEscrow creates the escrow on the settlement network. Only the
// caller that installed the in-flight marker submits.
func (svc *EscrowService) ProvisionEscrow(ctx context.Context, escrowID int64) (*models.Escrow, error) {
	var contract *models.Contract
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		c, err := svc.findContract(ctx, tx, e.ContractID)
		if err != nil {
			return err
		}
		contract = c
		return e.BeginProvision(svc.now())
	})
	if err != nil {
		return nil, err
	}
	key := createKey(escrow)
	resp, err := svc.Network.CreateEscrow(ctx, &settlement.CreateEscrowRequest{
		EscrowID:           escrow.ExpectedNetworkID(),
		FunderAddress:      contract.RequesterAddress,
		BeneficiaryAddress: contract.ProviderAddress,
		Amount:             escrow.TotalAmount,
		JobRef:             fmt.Sprintf("job-%d", escrow.JobID),
		ContractRef:        fmt.Sprintf("contract-%d", escrow.ContractID),
		IdempotencyKey:     key,
	})
	svc.audit(settlement.OpCreateEscrow, key, escrow.TotalAmount, err)
	if err != nil {
		unknown := common.IsOutcomeUnknown(err)
		_, _, uerr := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
			if e.IsProvisioned() {
				return errUnchanged
			}
			e.MarkProvisionFailed(unknown)
			t := svc.escrowTransaction(e, common.TransactionTypeEscrowCreate, common.TransactionStatusFailed)
			t.IdempotencyKey = key
			t.ErrorDetail = err.Error()
			return svc.recordTransaction(ctx, tx, t)
		})
		if uerr != nil {
			svc.Logger.Errorf("Could not record failed provisioning of escrow %d: %v", escrowID, uerr)
		}
		return nil, err
	}
	return svc.adoptNetworkEscrow(ctx, escrowID, resp.EscrowID, resp.TxRef, key)
}

// adoptNetworkEscrow links the local escrow to the escrow the network holds.
func (svc *EscrowService) adoptNetworkEscrow(ctx context.Context, escrowID int64, networkID, txRef, key string) (*models.Escrow, error) {
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if e.IsProvisioned() {
			return errUnchanged
		}
		e.MarkProvisioned(networkID, txRef)
		t := svc.escrowTransaction(e, common.TransactionTypeEscrowCreate, common.TransactionStatusSuccess)
		t.Reference = txRef
		t.IdempotencyKey = key
		return svc.recordTransaction(ctx, tx, t)
	})
	return escrow, err
}

// FundEscrow deposits the escrow total from the requester's account. A
// timeout leaves an ESCROW_FUND row PENDING for reconciliation.
func (svc *EscrowService) FundEscrow(ctx context.Context, escrowID, userID, amount int64) (*models.Escrow, error) {
	var (
		key      string
		contract *models.Contract
	)
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if userID != e.RequesterID {
			if _, err := e.PartyOf(userID); err != nil {
				return err
			}
			return fmt.Errorf("only the requester funds an escrow: %w", common.ErrNotAParty)
		}
		c, err := svc.findContract(ctx, tx, e.ContractID)
		if err != nil {
			return err
		}
		if c.Status != common.ContractStatusActive {
			return fmt.Errorf("fund escrow of contract in status %s: %w", c.Status, common.ErrInvalidState)
		}
		contract = c
		key, err = e.BeginFund(amount, svc.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	resp, err := svc.Network.FundEscrow(ctx, &settlement.FundEscrowRequest{
		EscrowID:       escrow.NetworkEscrowID,
		FunderAddress:  contract.RequesterAddress,
		Amount:         amount,
		IdempotencyKey: key,
	})
	svc.audit(settlement.OpFundEscrow, key, amount, err)
	if err != nil {
		unknown := common.IsOutcomeUnknown(err)
		_, _, uerr := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
			if e.FundIdempotencyKey != key || e.FundState != common.SubmissionInFlight {
				return errUnchanged
			}
			e.MarkFundFailed(unknown)
			t := svc.escrowTransaction(e, common.TransactionTypeEscrowFund, common.TransactionStatusFailed)
			t.IdempotencyKey = key
			t.ErrorDetail = err.Error()
			if unknown {
				t.Status = common.TransactionStatusPending
			}
			return svc.recordTransaction(ctx, tx, t)
		})
		if uerr != nil {
			svc.Logger.Errorf("Could not record failed funding of escrow %d: %v", escrowID, uerr)
		}
		return nil, err
	}
	return svc.commitFunding(ctx, escrowID, resp.TxRef)
}

// commitFunding applies a deposit the network confirmed. A PENDING
// ESCROW_FUND row left by an unknown outcome is settled instead of adding
// a second row.
func (svc *EscrowService) commitFunding(ctx context.Context, escrowID int64, txRef string) (*models.Escrow, error) {
	escrow, changed, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if e.Status != common.EscrowStatusPending {
			return errUnchanged
		}
		if err := e.MarkFunded(txRef, svc.now()); err != nil {
			return err
		}
		pending, err := svc.pendingTransactionFor(ctx, tx, e.ID, common.TransactionTypeEscrowFund)
		if err == nil {
			_, err = svc.markTransactionSuccess(ctx, tx, pending.ID, txRef)
			return err
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		t := svc.escrowTransaction(e, common.TransactionTypeEscrowFund, common.TransactionStatusSuccess)
		t.Reference = txRef
		t.IdempotencyKey = e.FundIdempotencyKey
		return svc.recordTransaction(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		svc.emit(ctx, Event{Type: EventEscrowFunded, JobID: escrow.JobID, ContractID: escrow.ContractID, EscrowID: escrow.ID, Amount: escrow.TotalAmount})
	}
	return escrow, nil
}

// ApproveEscrow records the completion approval of userID. The approval
// that makes the escrow release-ready installs the release marker in the
// same write, so exactly one caller submits the release.
func (svc *EscrowService) ApproveEscrow(ctx context.Context, escrowID, userID int64) (*models.Escrow, error) {
	var key string
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		key = ""
		party, err := e.PartyOf(userID)
		if err != nil {
			return err
		}
		c, err := svc.findContract(ctx, tx, e.ContractID)
		if err != nil {
			return err
		}
		switch c.Status {
		case common.ContractStatusDisputed:
			return common.ErrFrozen
		case common.ContractStatusTerminated:
			return fmt.Errorf("approve escrow of terminated contract: %w", common.ErrInvalidState)
		}
		now := svc.now()
		ready, err := e.Approve(party, now)
		if err != nil {
			return err
		}
		if ready {
			key, err = e.BeginRelease(now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if key == "" {
		return escrow, nil
	}
	return svc.submitRelease(ctx, escrow, key)
}

// submitRelease sends release_payment for the attempt identified by key.
// The caller must own the in-flight marker of that attempt.
func (svc *EscrowService) submitRelease(ctx context.Context, escrow *models.Escrow, key string) (*models.Escrow, error) {
	resp, err := svc.Network.ReleasePayment(ctx, &settlement.ReleasePaymentRequest{
		EscrowID:       escrow.NetworkEscrowID,
		Approver:       svc.SettlementCfg.PlatformAddress,
		IdempotencyKey: key,
	})
	svc.audit(settlement.OpReleasePayment, key, escrow.ProviderAmount, err)
	if err != nil {
		unknown := common.IsOutcomeUnknown(err)
		_, _, uerr := svc.updateEscrow(ctx, escrow.ID, func(tx bun.Tx, e *models.Escrow) error {
			if e.ReleaseIdempotencyKey != key || e.ReleaseState != common.SubmissionInFlight {
				return errUnchanged
			}
			e.MarkReleaseFailed(unknown)
			t := svc.escrowTransaction(e, common.TransactionTypeEscrowRelease, common.TransactionStatusFailed)
			t.UserID, t.CounterpartyID = e.ProviderID, e.RequesterID
			t.Fee = e.PlatformFee
			t.NetAmount = e.ProviderAmount
			t.IdempotencyKey = key
			t.ErrorDetail = err.Error()
			return svc.recordTransaction(ctx, tx, t)
		})
		if uerr != nil {
			svc.Logger.Errorf("Could not record failed release of escrow %d: %v", escrow.ID, uerr)
		}
		return nil, err
	}
	return svc.commitRelease(ctx, escrow.ID, resp.TxRef, key)
}

// commitRelease applies a release the network confirmed: the escrow is
// completed, the provider wallet is credited with the provider amount and
// the platform fee is booked, all in one database transaction.
func (svc *EscrowService) commitRelease(ctx context.Context, escrowID int64, txRef, key string) (*models.Escrow, error) {
	var contractCompleted bool
	escrow, changed, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		contractCompleted = false
		if e.Status == common.EscrowStatusCompleted || e.Status == common.EscrowStatusRefunded {
			return errUnchanged
		}
		now := svc.now()
		if e.Status == common.EscrowStatusPending {
			// the network only releases funded escrows
			if err := e.MarkFunded("", now); err != nil {
				return err
			}
		}
		if err := e.CompleteRelease(txRef, now); err != nil {
			return err
		}
		if key == "" {
			key = e.ReleaseIdempotencyKey
		}
		release := svc.escrowTransaction(e, common.TransactionTypeEscrowRelease, common.TransactionStatusSuccess)
		release.UserID, release.CounterpartyID = e.ProviderID, e.RequesterID
		release.Fee = e.PlatformFee
		release.NetAmount = e.ProviderAmount
		release.Reference = txRef
		release.IdempotencyKey = key
		if err := svc.recordTransaction(ctx, tx, release); err != nil {
			return err
		}
		if e.PlatformFee > 0 {
			fee := svc.escrowTransaction(e, common.TransactionTypePlatformFee, common.TransactionStatusSuccess)
			fee.Amount = e.PlatformFee
			fee.NetAmount = e.PlatformFee
			fee.Description = fmt.Sprintf("platform fee of escrow %d", e.ID)
			if err := svc.recordTransaction(ctx, tx, fee); err != nil {
				return err
			}
		}
		// a fee that took the whole amount leaves nothing to credit
		if e.ProviderAmount > 0 {
			if err := svc.creditWallet(ctx, tx, e.ProviderID, e.ProviderAmount); err != nil {
				return err
			}
		}
		if refund, err := svc.pendingTransactionFor(ctx, tx, e.ID, common.TransactionTypeEscrowRefund); err == nil {
			if _, err := svc.markTransactionCancelled(ctx, tx, refund.ID, "released on the settlement network"); err != nil {
				return err
			}
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		c, err := svc.findContract(ctx, tx, e.ContractID)
		if err != nil {
			return err
		}
		if c.Status == common.ContractStatusActive {
			prev := c.Revision
			if err := c.Complete(now); err != nil {
				return err
			}
			c.Revision++
			if err := updateWithRevision(ctx, tx, c, prev); err != nil {
				return err
			}
			contractCompleted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return escrow, nil
	}
	svc.Logger.Infof("Escrow %d released %s to user %d", escrow.ID, models.FormatAmount(escrow.ProviderAmount), escrow.ProviderID)
	svc.emit(ctx, Event{
		Type:       EventEscrowReleased,
		JobID:      escrow.JobID,
		ContractID: escrow.ContractID,
		EscrowID:   escrow.ID,
		UserID:     escrow.ProviderID,
		Amount:     escrow.ProviderAmount,
	})
	if contractCompleted {
		svc.emit(ctx, Event{Type: EventJobCompleted, JobID: escrow.JobID, ContractID: escrow.ContractID})
	}
	return escrow, nil
}

// disputeEscrow freezes e and opens the refund placeholder that arbitration
// settles. The caller persists e.
func (svc *EscrowService) disputeEscrow(ctx context.Context, tx bun.Tx, e *models.Escrow, reason string, now time.Time) error {
	if err := e.Dispute(reason, now); err != nil {
		return err
	}
	return svc.openRefund(ctx, tx, e, reason)
}

func (svc *EscrowService) openRefund(ctx context.Context, tx bun.Tx, e *models.Escrow, reason string) error {
	t := svc.escrowTransaction(e, common.TransactionTypeEscrowRefund, common.TransactionStatusPending)
	t.Description = "refund pending arbitration"
	if reason != "" {
		t.Description += ": " + reason
	}
	return svc.recordTransaction(ctx, tx, t)
}

func (svc *EscrowService) DisputeEscrow(ctx context.Context, escrowID, userID int64, reason string) (*models.Escrow, error) {
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if _, err := e.PartyOf(userID); err != nil {
			return err
		}
		return svc.disputeEscrow(ctx, tx, e, reason, svc.now())
	})
	if err != nil {
		return nil, err
	}
	svc.Logger.Warnf("Escrow %d disputed by user %d: %s", escrow.ID, userID, reason)
	return escrow, nil
}

type EscrowStatusView struct {
	Escrow         *models.Escrow           `json:"escrow"`
	ContractStatus string                   `json:"contract_status"`
	LocalStatus    string                   `json:"local_status"`
	NetworkStatus  *settlement.EscrowStatus `json:"network_status,omitempty"`
	NetworkError   string                   `json:"network_error,omitempty"`
	Reconciled     *ReconcileResult         `json:"reconciled,omitempty"`
}

// EscrowStatus reconciles the escrow and reports local and network state
// side by side. Network errors are reported in the view, not returned.
func (svc *EscrowService) EscrowStatus(ctx context.Context, escrowID, userID int64) (*EscrowStatusView, error) {
	if _, err := svc.FindEscrowForParty(ctx, escrowID, userID); err != nil {
		return nil, err
	}
	view := &EscrowStatusView{}
	result, err := svc.ReconcileEscrow(ctx, escrowID)
	if err != nil {
		view.NetworkError = err.Error()
	} else {
		view.Reconciled = result
		view.NetworkStatus = result.Network
	}
	escrow, err := svc.FindEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	contract, err := svc.FindContract(ctx, escrow.ContractID)
	if err != nil {
		return nil, err
	}
	view.Escrow = escrow
	view.LocalStatus = escrow.Status
	view.ContractStatus = contract.Status
	return view, nil
}
