package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/settlement"
	"github.com/uptrace/bun"
)

const (
	ActionNone                = "none"
	ActionProvisioned         = "provisioned"
	ActionProvisionResubmit   = "provision_resubmitted"
	ActionProvisionExhausted  = "provision_exhausted"
	ActionFunded              = "funded"
	ActionFundFailed          = "fund_failed"
	ActionReleased            = "released"
	ActionReleaseFailed       = "release_failed"
	ActionReleaseResubmitted  = "release_resubmitted"
	ActionReleaseRetried      = "release_retried"
	ActionReleaseExhausted    = "release_exhausted"
	ActionDisputed            = "disputed"
	ActionRefunded            = "refunded"
	ActionDiverged            = "diverged"
	ActionWithdrawalCompleted = "withdrawal_completed"
	ActionWithdrawalFailed    = "withdrawal_failed"
	ActionWithdrawalResubmit  = "withdrawal_resubmitted"
	ActionTransactionSettled  = "transaction_settled"
)

type ReconcileResult struct {
	EscrowID int64                    `json:"escrow_id"`
	Before   string                   `json:"before"`
	After    string                   `json:"after"`
	Action   string                   `json:"action"`
	Network  *settlement.EscrowStatus `json:"network,omitempty"`
}

func (svc *EscrowService) maxReconcileAttempts() int {
	if svc.Config.ReconcileMaxAttempts > 0 {
		return svc.Config.ReconcileMaxAttempts
	}
	return 5
}

func (svc *EscrowService) inFlightCutoff() time.Time {
	after := svc.Config.ReconcileInFlightAfter
	if after <= 0 {
		after = 2 * time.Minute
	}
	return svc.now().Add(-after)
}

func stale(at bun.NullTime, cutoff time.Time) bool {
	return at.IsZero() || at.Time.Before(cutoff)
}

// ReconcileEscrow compares one escrow with the settlement network and moves
// the local state to what the network reports. A submission with an
// unknown outcome is looked up by its idempotency key before anything is
// sent again.
func (svc *EscrowService) ReconcileEscrow(ctx context.Context, escrowID int64) (*ReconcileResult, error) {
	escrow, err := svc.FindEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{EscrowID: escrowID, Before: escrow.Status, After: escrow.Status, Action: ActionNone}
	if escrow.IsTerminal() {
		return result, nil
	}
	escrow, err = svc.expireInFlight(ctx, escrow)
	if err != nil {
		return nil, err
	}
	if !escrow.IsProvisioned() {
		return svc.reconcileProvision(ctx, escrow, result)
	}
	status, err := svc.Network.GetEscrowStatus(ctx, escrow.NetworkEscrowID)
	if err != nil {
		return nil, err
	}
	result.Network = status
	escrow, result.Action, err = svc.applyNetworkStatus(ctx, escrow, status)
	if err != nil {
		result.Action = ActionNone
	}
	if escrow != nil {
		result.After = escrow.Status
	}
	if result.Action != ActionNone {
		svc.Logger.Infof("Reconciled escrow %d: %s -> %s (%s)", escrowID, result.Before, result.After, result.Action)
	}
	return result, err
}

// expireInFlight turns submissions that stayed in flight for too long into
// unknown outcomes. The process that sent them is assumed gone.
func (svc *EscrowService) expireInFlight(ctx context.Context, escrow *models.Escrow) (*models.Escrow, error) {
	cutoff := svc.inFlightCutoff()
	expired := func(e *models.Escrow) bool {
		return (e.ProvisionState == common.SubmissionInFlight && stale(e.ProvisionSubmittedAt, cutoff)) ||
			(e.FundState == common.SubmissionInFlight && stale(e.FundSubmittedAt, cutoff)) ||
			(e.ReleaseState == common.SubmissionInFlight && stale(e.ReleaseSubmittedAt, cutoff))
	}
	if !expired(escrow) {
		return escrow, nil
	}
	e, _, err := svc.updateEscrow(ctx, escrow.ID, func(tx bun.Tx, e *models.Escrow) error {
		if !expired(e) {
			return errUnchanged
		}
		if e.ProvisionState == common.SubmissionInFlight && stale(e.ProvisionSubmittedAt, cutoff) {
			e.MarkProvisionFailed(true)
		}
		if e.FundState == common.SubmissionInFlight && stale(e.FundSubmittedAt, cutoff) {
			e.MarkFundFailed(true)
		}
		if e.ReleaseState == common.SubmissionInFlight && stale(e.ReleaseSubmittedAt, cutoff) {
			e.MarkReleaseFailed(true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	svc.Logger.Warnf("Escrow %d had stale in-flight submissions, marked unknown", e.ID)
	return e, nil
}

// reconcileProvision looks up the deterministic network id of an escrow whose
// creation never got confirmed and either adopts the network escrow or
// submits the creation again.
func (svc *EscrowService) reconcileProvision(ctx context.Context, escrow *models.Escrow, result *ReconcileResult) (*ReconcileResult, error) {
	if escrow.ProvisionState == common.SubmissionInFlight {
		return result, nil
	}
	status, err := svc.Network.GetEscrowStatus(ctx, escrow.ExpectedNetworkID())
	switch {
	case err == nil:
		result.Network = status
		networkID := status.EscrowID
		if networkID == "" {
			networkID = escrow.ExpectedNetworkID()
		}
		escrow, err = svc.adoptNetworkEscrow(ctx, escrow.ID, networkID, "", createKey(escrow))
		if err != nil {
			return nil, err
		}
		result.Action = ActionProvisioned
		var action string
		escrow, action, err = svc.applyNetworkStatus(ctx, escrow, status)
		if err == nil && action != ActionNone {
			result.Action = action
		}
	case errors.Is(err, common.ErrNotFound):
		if escrow.ProvisionAttempts >= svc.maxReconcileAttempts() {
			svc.Logger.Errorf("Escrow %d could not be provisioned after %d attempts", escrow.ID, escrow.ProvisionAttempts)
			result.Action = ActionProvisionExhausted
			return result, nil
		}
		result.Action = ActionProvisionResubmit
		escrow, err = svc.ProvisionEscrow(ctx, escrow.ID)
	default:
		return nil, err
	}
	if escrow != nil {
		result.After = escrow.Status
	}
	return result, err
}

// applyNetworkStatus moves the escrow toward the network status. The
// network is the authority on where money is.
func (svc *EscrowService) applyNetworkStatus(ctx context.Context, escrow *models.Escrow, status *settlement.EscrowStatus) (*models.Escrow, string, error) {
	switch status.Status {
	case settlement.EscrowStatusCompleted:
		e, err := svc.commitRelease(ctx, escrow.ID, status.ReleaseTxRef, "")
		if err != nil {
			return escrow, ActionNone, err
		}
		return e, ActionReleased, nil
	case settlement.EscrowStatusRefunded:
		e, err := svc.commitRefund(ctx, escrow.ID)
		if err != nil {
			return escrow, ActionNone, err
		}
		return e, ActionRefunded, nil
	case settlement.EscrowStatusDisputed:
		if escrow.Status == common.EscrowStatusDisputed {
			return escrow, ActionNone, nil
		}
		e, err := svc.observeDispute(ctx, escrow.ID, status.FundTxRef)
		return e, ActionDisputed, err
	case settlement.EscrowStatusFunded:
		if escrow.Status == common.EscrowStatusPending {
			e, err := svc.commitFunding(ctx, escrow.ID, status.FundTxRef)
			return e, ActionFunded, err
		}
		return svc.resolveRelease(ctx, escrow)
	case settlement.EscrowStatusPending:
		if escrow.Status == common.EscrowStatusPending {
			if escrow.FundState == common.SubmissionUnknown {
				return svc.resolveFund(ctx, escrow)
			}
			return escrow, ActionNone, nil
		}
		svc.Logger.Errorf("Escrow %d is %s locally but %s on the settlement network", escrow.ID, escrow.Status, status.Status)
		return escrow, ActionDiverged, nil
	}
	svc.Logger.Errorf("Escrow %d has unknown network status %q", escrow.ID, status.Status)
	return escrow, ActionDiverged, nil
}

func (svc *EscrowService) resolveFund(ctx context.Context, escrow *models.Escrow) (*models.Escrow, string, error) {
	key := escrow.FundIdempotencyKey
	tx, err := svc.Network.GetTransaction(ctx, key)
	switch {
	case err == nil && tx.Status == settlement.TxStatusSuccess:
		e, err := svc.commitFunding(ctx, escrow.ID, tx.TxRef)
		return e, ActionFunded, err
	case err == nil && tx.Status == settlement.TxStatusFailed:
		e, err := svc.fundFailed(ctx, escrow.ID, key, tx.Error)
		return e, ActionFundFailed, err
	case err == nil:
		// still processing on the network side
		return escrow, ActionNone, nil
	case errors.Is(err, common.ErrNotFound):
		e, err := svc.fundFailed(ctx, escrow.ID, key, "never reached the settlement network")
		return e, ActionFundFailed, err
	}
	return nil, ActionNone, err
}

func (svc *EscrowService) fundFailed(ctx context.Context, escrowID int64, key, detail string) (*models.Escrow, error) {
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if e.FundIdempotencyKey != key || e.FundState != common.SubmissionUnknown {
			return errUnchanged
		}
		e.MarkFundFailed(false)
		pending, err := svc.pendingTransactionFor(ctx, tx, e.ID, common.TransactionTypeEscrowFund)
		if err == nil {
			_, err = svc.markTransactionFailed(ctx, tx, pending.ID, detail)
			return err
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		t := svc.escrowTransaction(e, common.TransactionTypeEscrowFund, common.TransactionStatusFailed)
		t.IdempotencyKey = key
		t.ErrorDetail = detail
		return svc.recordTransaction(ctx, tx, t)
	})
	return escrow, err
}

// resolveRelease settles a release whose outcome is unknown, or retries a
// release that failed definitively, on an escrow the network still holds.
func (svc *EscrowService) resolveRelease(ctx context.Context, escrow *models.Escrow) (*models.Escrow, string, error) {
	switch escrow.ReleaseState {
	case common.SubmissionUnknown:
		key := escrow.ReleaseIdempotencyKey
		tx, err := svc.Network.GetTransaction(ctx, key)
		switch {
		case err == nil && tx.Status == settlement.TxStatusSuccess:
			e, err := svc.commitRelease(ctx, escrow.ID, tx.TxRef, key)
			return e, ActionReleased, err
		case err == nil && tx.Status == settlement.TxStatusFailed:
			e, err := svc.releaseFailed(ctx, escrow.ID, key)
			if err != nil {
				return nil, ActionReleaseFailed, err
			}
			return svc.retryRelease(ctx, e)
		case err == nil:
			return escrow, ActionNone, nil
		case errors.Is(err, common.ErrNotFound):
			return svc.resumeRelease(ctx, escrow.ID)
		}
		return nil, ActionNone, err
	case common.SubmissionFailed:
		return svc.retryRelease(ctx, escrow)
	}
	return escrow, ActionNone, nil
}

func (svc *EscrowService) releaseFailed(ctx context.Context, escrowID int64, key string) (*models.Escrow, error) {
	escrow, _, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if e.ReleaseIdempotencyKey != key || e.ReleaseState != common.SubmissionUnknown {
			return errUnchanged
		}
		e.MarkReleaseFailed(false)
		return nil
	})
	return escrow, err
}

// resumeRelease re-sends a release the network has no record of, under the
// key of the original attempt.
func (svc *EscrowService) resumeRelease(ctx context.Context, escrowID int64) (*models.Escrow, string, error) {
	var key string
	escrow, changed, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if e.ReleaseState != common.SubmissionUnknown {
			return errUnchanged
		}
		var err error
		key, err = e.ResumeRelease(svc.now())
		return err
	})
	if err != nil || !changed {
		return escrow, ActionNone, err
	}
	e, err := svc.submitRelease(ctx, escrow, key)
	if err != nil {
		return escrow, ActionReleaseResubmitted, err
	}
	return e, ActionReleased, nil
}

// retryRelease starts a new release attempt after a definitive failure.
func (svc *EscrowService) retryRelease(ctx context.Context, escrow *models.Escrow) (*models.Escrow, string, error) {
	if !escrow.ReleaseReady() {
		return escrow, ActionReleaseFailed, nil
	}
	if escrow.ReleaseAttempt >= svc.maxReconcileAttempts() {
		svc.Logger.Errorf("Escrow %d release failed %d times, needs manual attention", escrow.ID, escrow.ReleaseAttempt)
		return escrow, ActionReleaseExhausted, nil
	}
	var key string
	escrow, changed, err := svc.updateEscrow(ctx, escrow.ID, func(tx bun.Tx, e *models.Escrow) error {
		if !e.ReleaseReady() || e.ReleaseAttempt >= svc.maxReconcileAttempts() {
			return errUnchanged
		}
		var err error
		key, err = e.BeginRelease(svc.now())
		return err
	})
	if err != nil || !changed {
		return escrow, ActionNone, err
	}
	e, err := svc.submitRelease(ctx, escrow, key)
	if err != nil {
		return escrow, ActionReleaseRetried, err
	}
	return e, ActionReleased, nil
}

// observeDispute applies a dispute raised on the network. The contract
// follows into DISPUTED when it is still active.
func (svc *EscrowService) observeDispute(ctx context.Context, escrowID int64, fundTxRef string) (*models.Escrow, error) {
	escrow, changed, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		now := svc.now()
		switch e.Status {
		case common.EscrowStatusDisputed:
			return errUnchanged
		case common.EscrowStatusPending:
			if err := e.MarkFunded(fundTxRef, now); err != nil {
				return err
			}
		}
		if err := e.ObserveDispute(now); err != nil {
			return err
		}
		if err := svc.openRefund(ctx, tx, e, "raised on the settlement network"); err != nil {
			return err
		}
		c, err := svc.findContract(ctx, tx, e.ContractID)
		if err != nil {
			return err
		}
		if c.Status != common.ContractStatusActive {
			return nil
		}
		prev := c.Revision
		if err := c.RaiseDispute("raised on the settlement network", now); err != nil {
			return err
		}
		c.Revision++
		return updateWithRevision(ctx, tx, c, prev)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		svc.emit(ctx, Event{Type: EventContractDisputed, JobID: escrow.JobID, ContractID: escrow.ContractID, EscrowID: escrow.ID})
	}
	return escrow, nil
}

// commitRefund applies a refund decided by arbitration on the network.
// Refunded funds go back to the requester's network account; the local
// wallets are not touched.
func (svc *EscrowService) commitRefund(ctx context.Context, escrowID int64) (*models.Escrow, error) {
	escrow, changed, err := svc.updateEscrow(ctx, escrowID, func(tx bun.Tx, e *models.Escrow) error {
		if e.IsTerminal() {
			return errUnchanged
		}
		now := svc.now()
		if e.Status == common.EscrowStatusPending {
			if err := e.MarkFunded("", now); err != nil {
				return err
			}
		}
		if e.Status != common.EscrowStatusDisputed {
			if err := e.ObserveDispute(now); err != nil {
				return err
			}
		}
		if err := e.MarkRefunded(now); err != nil {
			return err
		}
		refund, err := svc.pendingTransactionFor(ctx, tx, e.ID, common.TransactionTypeEscrowRefund)
		if err == nil {
			_, err = svc.markTransactionSuccess(ctx, tx, refund.ID, "")
			return err
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		return svc.recordTransaction(ctx, tx, svc.escrowTransaction(e, common.TransactionTypeEscrowRefund, common.TransactionStatusSuccess))
	})
	if err != nil {
		return nil, err
	}
	if changed {
		svc.emit(ctx, Event{Type: EventEscrowRefunded, JobID: escrow.JobID, ContractID: escrow.ContractID, EscrowID: escrow.ID, UserID: escrow.RequesterID, Amount: escrow.TotalAmount})
	}
	return escrow, nil
}

// ReconcileWithdrawal settles a withdrawal whose payment outcome is
// unknown. A payment the network never saw is sent again under its
// original idempotency key.
func (svc *EscrowService) ReconcileWithdrawal(ctx context.Context, id int64) (*models.Withdrawal, string, error) {
	withdrawal, err := svc.FindWithdrawal(ctx, id)
	if err != nil {
		return nil, ActionNone, err
	}
	if withdrawal.Status != common.WithdrawalStatusProcessing {
		return withdrawal, ActionNone, nil
	}
	if withdrawal.SubmissionState == common.SubmissionInFlight && !stale(withdrawal.ProcessedAt, svc.inFlightCutoff()) {
		return withdrawal, ActionNone, nil
	}
	tx, err := svc.Network.GetTransaction(ctx, withdrawal.IdempotencyKey)
	switch {
	case err == nil && tx.Status == settlement.TxStatusSuccess:
		w, err := svc.completeWithdrawal(ctx, id, tx.TxRef)
		return w, ActionWithdrawalCompleted, err
	case err == nil && tx.Status == settlement.TxStatusFailed:
		w, err := svc.failWithdrawal(ctx, id, tx.Error)
		return w, ActionWithdrawalFailed, err
	case err == nil:
		return withdrawal, ActionNone, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, ActionNone, err
	}
	w, changed, err := svc.updateWithdrawal(ctx, id, func(tx bun.Tx, w *models.Withdrawal) error {
		if w.Status != common.WithdrawalStatusProcessing || w.SubmissionState == common.SubmissionSettled {
			return errUnchanged
		}
		w.SubmissionState = common.SubmissionInFlight
		w.ProcessedAt = bun.NullTime{Time: svc.now()}
		return nil
	})
	if err != nil || !changed {
		return w, ActionNone, err
	}
	w, err = svc.sendWithdrawal(ctx, w)
	return w, ActionWithdrawalResubmit, err
}

// reconcileTransaction settles a PENDING ledger row that belongs to neither
// an escrow nor a withdrawal by looking it up on the network.
func (svc *EscrowService) reconcileTransaction(ctx context.Context, t *models.Transaction) (string, error) {
	reference := t.Reference
	if reference == "" {
		reference = t.IdempotencyKey
	}
	if reference == "" {
		return ActionNone, nil
	}
	status, err := svc.Network.GetTransaction(ctx, reference)
	if errors.Is(err, common.ErrNotFound) {
		return ActionNone, nil
	}
	if err != nil {
		return ActionNone, err
	}
	switch status.Status {
	case settlement.TxStatusSuccess:
		_, err = svc.MarkTransactionSuccess(ctx, t.ID, status.TxRef)
	case settlement.TxStatusFailed:
		_, err = svc.MarkTransactionFailed(ctx, t.ID, status.Error)
	default:
		return ActionNone, nil
	}
	if err != nil {
		return ActionNone, err
	}
	return ActionTransactionSettled, nil
}

type ReconcileSummary struct {
	Escrows      int            `json:"escrows"`
	Withdrawals  int            `json:"withdrawals"`
	Transactions int            `json:"transactions"`
	Actions      map[string]int `json:"actions"`
	Errors       int            `json:"errors"`
}

func (s *ReconcileSummary) count(action string, err error) {
	if action != "" && action != ActionNone {
		s.Actions[action]++
	}
	if err != nil {
		s.Errors++
	}
}

func (svc *EscrowService) batchSize() int {
	if svc.Config.ReconcileBatchSize > 0 {
		return svc.Config.ReconcileBatchSize
	}
	return 100
}

// ReconcileAll runs one reconciliation pass over every non-terminal escrow,
// every withdrawal in processing and every PENDING ledger row older than
// pendingBefore. Per-item failures are logged and counted, not returned.
func (svc *EscrowService) ReconcileAll(ctx context.Context, pendingBefore time.Time) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{Actions: map[string]int{}}
	var lastID int64
	for {
		escrows := []models.Escrow{}
		err := svc.DB.NewSelect().Model(&escrows).
			Column("id").
			Where("status IN (?)", bun.In([]string{
				common.EscrowStatusPending,
				common.EscrowStatusFunded,
				common.EscrowStatusInProgress,
				common.EscrowStatusDisputed,
			})).
			Where("id > ?", lastID).
			OrderExpr("id ASC").
			Limit(svc.batchSize()).
			Scan(ctx)
		if err != nil {
			return summary, err
		}
		for _, e := range escrows {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			lastID = e.ID
			summary.Escrows++
			result, err := svc.ReconcileEscrow(ctx, e.ID)
			if err != nil {
				svc.Logger.Errorf("Reconciling escrow %d: %v", e.ID, err)
			}
			action := ""
			if result != nil {
				action = result.Action
			}
			summary.count(action, err)
		}
		if len(escrows) < svc.batchSize() {
			break
		}
	}

	withdrawals := []models.Withdrawal{}
	err := svc.DB.NewSelect().Model(&withdrawals).
		Column("id").
		Where("status = ?", common.WithdrawalStatusProcessing).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return summary, err
	}
	for _, w := range withdrawals {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Withdrawals++
		_, action, err := svc.ReconcileWithdrawal(ctx, w.ID)
		if err != nil {
			svc.Logger.Errorf("Reconciling withdrawal %d: %v", w.ID, err)
		}
		summary.count(action, err)
	}

	transactions := []models.Transaction{}
	err = svc.DB.NewSelect().Model(&transactions).
		Where("status = ?", common.TransactionStatusPending).
		Where("escrow_id IS NULL").
		Where("withdrawal_id IS NULL").
		Where("created_at < ?", pendingBefore).
		OrderExpr("id ASC").
		Limit(svc.batchSize()).
		Scan(ctx)
	if err != nil {
		return summary, err
	}
	for i := range transactions {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Transactions++
		action, err := svc.reconcileTransaction(ctx, &transactions[i])
		if err != nil {
			svc.Logger.Errorf("Reconciling transaction %d: %v", transactions[i].ID, err)
		}
		summary.count(action, err)
	}
	return summary, nil
}

// HandleSettlementEvent reconciles whatever a network notification points at.
func (svc *EscrowService) HandleSettlementEvent(ctx context.Context, payload []byte) error {
	notification := settlement.Notification{}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return fmt.Errorf("decode settlement notification: %w", err)
	}
	if notification.EscrowID != "" {
		escrow := &models.Escrow{}
		err := svc.DB.NewSelect().Model(escrow).Column("id").
			Where("network_escrow_id = ?", notification.EscrowID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			var jobID, contractID int64
			if _, scanErr := fmt.Sscanf(notification.EscrowID, "escrow_%d_%d", &jobID, &contractID); scanErr != nil {
				return notFound(err, "network escrow", notification.EscrowID)
			}
			escrow, err = svc.FindEscrowByContract(ctx, contractID)
			if err != nil {
				return err
			}
		}
		_, err = svc.ReconcileEscrow(ctx, escrow.ID)
		return err
	}
	if notification.Reference != "" {
		withdrawal := &models.Withdrawal{}
		err := svc.DB.NewSelect().Model(withdrawal).Column("id").
			Where("idempotency_key = ?", notification.Reference).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return notFound(err, "withdrawal with key", notification.Reference)
		}
		_, _, err = svc.ReconcileWithdrawal(ctx, withdrawal.ID)
		return err
	}
	svc.Logger.Warnf("Ignoring settlement notification %q without escrow or reference", notification.Type)
	return nil
}
