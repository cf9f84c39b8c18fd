package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/settlement"
	"github.com/uptrace/bun"
)

func (svc *EscrowService) findWithdrawal(ctx context.Context, idb bun.IDB, id int64) (*models.Withdrawal, error) {
	w := &models.Withdrawal{}
	if err := idb.NewSelect().Model(w).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "withdrawal", id)
	}
	return w, nil
}

func (svc *EscrowService) FindWithdrawal(ctx context.Context, id int64) (*models.Withdrawal, error) {
	return svc.findWithdrawal(ctx, svc.DB, id)
}

func (svc *EscrowService) updateWithdrawal(ctx context.Context, id int64, mutate func(tx bun.Tx, w *models.Withdrawal) error) (withdrawal *models.Withdrawal, changed bool, err error) {
	err = svc.retryOnConflict(func() error {
		return svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			w, err := svc.findWithdrawal(ctx, tx, id)
			if err != nil {
				return err
			}
			prev := w.Revision
			err = mutate(tx, w)
			if errors.Is(err, errUnchanged) {
				withdrawal, changed = w, false
				return nil
			}
			if err != nil {
				return err
			}
			w.Revision++
			if err := updateWithRevision(ctx, tx, w, prev); err != nil {
				return err
			}
			withdrawal, changed = w, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return withdrawal, changed, nil
}

// RequestWithdrawal opens a withdrawal together with its PENDING ledger row.
// The balance check here is advisory; processing reserves the funds
// atomically.
func (svc *EscrowService) RequestWithdrawal(ctx context.Context, userID, amount int64, destination string) (*models.Withdrawal, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if amount < svc.Config.WithdrawalMinimum {
		return nil, fmt.Errorf("minimum withdrawal is %s: %w", models.FormatAmount(svc.Config.WithdrawalMinimum), common.ErrBelowMinimum)
	}
	if destination == "" {
		return nil, fmt.Errorf("destination address is required: %w", common.ErrInvalidState)
	}
	wallet, err := svc.getOrCreateWallet(ctx, svc.DB, userID)
	if err != nil {
		return nil, err
	}
	if wallet.AvailableBalance < amount {
		return nil, fmt.Errorf("available %s, requested %s: %w",
			models.FormatAmount(wallet.AvailableBalance), models.FormatAmount(amount), common.ErrInsufficientBalance)
	}
	now := svc.now()
	withdrawal := &models.Withdrawal{
		UserID:             userID,
		Amount:             amount,
		DestinationAddress: destination,
		Status:             common.WithdrawalStatusPending,
		SubmissionState:    common.SubmissionNone,
		CreatedAt:          now,
	}
	err = svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(withdrawal).Exec(ctx); err != nil {
			return err
		}
		t := &models.Transaction{
			Type:         common.TransactionTypeWithdrawal,
			Status:       common.TransactionStatusPending,
			UserID:       userID,
			WithdrawalID: withdrawal.ID,
			Amount:       amount,
			NetAmount:    amount,
			Description:  fmt.Sprintf("withdrawal to %s", destination),
			CreatedAt:    now,
		}
		if err := svc.recordTransaction(ctx, tx, t); err != nil {
			return err
		}
		withdrawal.TransactionID = t.ID
		_, err := tx.NewUpdate().Model(withdrawal).Column("transaction_id").WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return withdrawal, nil
}

// ProcessWithdrawal is the admin decision on a PENDING withdrawal. Approval
// reserves the amount before the payment is sent; a wallet that no longer
// covers it fails with ErrInsufficientBalance and the withdrawal stays
// PENDING.
func (svc *EscrowService) ProcessWithdrawal(ctx context.Context, id, adminID int64, approve bool, reason string) (*models.Withdrawal, error) {
	if !approve {
		return svc.rejectWithdrawal(ctx, id, adminID, reason)
	}
	key := uuid.NewString()
	withdrawal, _, err := svc.updateWithdrawal(ctx, id, func(tx bun.Tx, w *models.Withdrawal) error {
		if err := w.StartProcessing(adminID, key, svc.now()); err != nil {
			return err
		}
		if err := svc.reserveFunds(ctx, tx, w.UserID, w.Amount); err != nil {
			return err
		}
		_, err := tx.NewUpdate().Model((*models.Transaction)(nil)).
			Set("idempotency_key = ?", key).
			Where("id = ?", w.TransactionID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return svc.sendWithdrawal(ctx, withdrawal)
}

func (svc *EscrowService) sendWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) (*models.Withdrawal, error) {
	resp, err := svc.Network.SendPayment(ctx, &settlement.SendPaymentRequest{
		DestinationAddress: withdrawal.DestinationAddress,
		Amount:             withdrawal.Amount,
		Memo:               fmt.Sprintf("withdrawal-%d", withdrawal.ID),
		IdempotencyKey:     withdrawal.IdempotencyKey,
	})
	svc.audit(settlement.OpSendPayment, withdrawal.IdempotencyKey, withdrawal.Amount, err)
	if err == nil {
		return svc.completeWithdrawal(ctx, withdrawal.ID, resp.TxRef)
	}
	if !common.IsOutcomeUnknown(err) {
		if _, ferr := svc.failWithdrawal(ctx, withdrawal.ID, err.Error()); ferr != nil {
			svc.Logger.Errorf("Could not record failed withdrawal %d: %v", withdrawal.ID, ferr)
		}
		return nil, err
	}
	_, _, uerr := svc.updateWithdrawal(ctx, withdrawal.ID, func(tx bun.Tx, w *models.Withdrawal) error {
		if w.Status != common.WithdrawalStatusProcessing || w.SubmissionState != common.SubmissionInFlight {
			return errUnchanged
		}
		w.MarkUnknown(err.Error())
		return nil
	})
	if uerr != nil {
		svc.Logger.Errorf("Could not record unknown outcome of withdrawal %d: %v", withdrawal.ID, uerr)
	}
	return nil, err
}

func (svc *EscrowService) completeWithdrawal(ctx context.Context, id int64, txRef string) (*models.Withdrawal, error) {
	withdrawal, changed, err := svc.updateWithdrawal(ctx, id, func(tx bun.Tx, w *models.Withdrawal) error {
		if w.Status != common.WithdrawalStatusProcessing {
			return errUnchanged
		}
		if err := w.Complete(txRef); err != nil {
			return err
		}
		if err := svc.settleReservation(ctx, tx, w.UserID, w.Amount); err != nil {
			return err
		}
		_, err := svc.markTransactionSuccess(ctx, tx, w.TransactionID, txRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		svc.emit(ctx, Event{Type: EventWithdrawalCompleted, WithdrawalID: withdrawal.ID, UserID: withdrawal.UserID, Amount: withdrawal.Amount})
	}
	return withdrawal, nil
}

// failWithdrawal records a definitive failure and returns the reserved
// amount to the available balance.
func (svc *EscrowService) failWithdrawal(ctx context.Context, id int64, reason string) (*models.Withdrawal, error) {
	withdrawal, _, err := svc.updateWithdrawal(ctx, id, func(tx bun.Tx, w *models.Withdrawal) error {
		if w.Status != common.WithdrawalStatusProcessing {
			return errUnchanged
		}
		if err := w.Fail(reason); err != nil {
			return err
		}
		if err := svc.releaseReservation(ctx, tx, w.UserID, w.Amount); err != nil {
			return err
		}
		_, err := svc.markTransactionFailed(ctx, tx, w.TransactionID, reason)
		return err
	})
	return withdrawal, err
}

func (svc *EscrowService) rejectWithdrawal(ctx context.Context, id, adminID int64, reason string) (*models.Withdrawal, error) {
	withdrawal, _, err := svc.updateWithdrawal(ctx, id, func(tx bun.Tx, w *models.Withdrawal) error {
		if err := w.Reject(adminID, reason, svc.now()); err != nil {
			return err
		}
		detail := "Rejected by admin"
		if reason != "" {
			detail += ": " + reason
		}
		_, err := svc.markTransactionFailed(ctx, tx, w.TransactionID, detail)
		return err
	})
	return withdrawal, err
}

// CancelWithdrawal is allowed to the owner while the withdrawal is PENDING.
func (svc *EscrowService) CancelWithdrawal(ctx context.Context, id, userID int64) (*models.Withdrawal, error) {
	withdrawal, _, err := svc.updateWithdrawal(ctx, id, func(tx bun.Tx, w *models.Withdrawal) error {
		if w.UserID != userID {
			return common.ErrNotAParty
		}
		if err := w.Cancel(); err != nil {
			return err
		}
		_, err := svc.markTransactionFailed(ctx, tx, w.TransactionID, "Cancelled by user")
		return err
	})
	return withdrawal, err
}

// ListWithdrawals lists the withdrawals of userID, or all of them when
// userID is 0.
func (svc *EscrowService) ListWithdrawals(ctx context.Context, userID int64, status string) ([]models.Withdrawal, error) {
	withdrawals := []models.Withdrawal{}
	query := svc.DB.NewSelect().Model(&withdrawals).OrderExpr("created_at DESC, id DESC")
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Scan(ctx)
	return withdrawals, err
}
