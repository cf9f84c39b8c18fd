package models

import (
	"context"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

// Withdrawal : request to move ledger balance to an external address
type Withdrawal struct {
	ID                 int64        `json:"id" bun:",pk,autoincrement"`
	UserID             int64        `json:"user_id" bun:",notnull"`
	Amount             int64        `json:"amount" bun:",notnull"`
	DestinationAddress string       `json:"destination_address" bun:",notnull"`
	Status             string       `json:"status" bun:",notnull"`
	TransactionID      int64        `json:"transaction_id" bun:",nullzero"`
	SubmissionState    string       `json:"submission_state" bun:",notnull,default:'none'"`
	IdempotencyKey     string       `json:"-" bun:",nullzero"`
	NetworkTxRef       string       `json:"network_tx_ref,omitempty" bun:",nullzero"`
	ProcessedBy        int64        `json:"processed_by,omitempty" bun:",nullzero"`
	ProcessedAt        bun.NullTime `json:"processed_at"`
	FailureReason      string       `json:"failure_reason,omitempty" bun:",nullzero"`
	Revision           int64        `json:"-" bun:",notnull,default:0"`
	CreatedAt          time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt          bun.NullTime `json:"updated_at"`
}

func (w *Withdrawal) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		w.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Withdrawal)(nil)

// StartProcessing moves an approved withdrawal in flight. key identifies
// the send_payment submission.
func (w *Withdrawal) StartProcessing(adminID int64, key string, now time.Time) error {
	if w.Status != common.WithdrawalStatusPending {
		return fmt.Errorf("process withdrawal in status %s: %w", w.Status, common.ErrInvalidState)
	}
	w.Status = common.WithdrawalStatusProcessing
	w.SubmissionState = common.SubmissionInFlight
	w.IdempotencyKey = key
	w.ProcessedBy = adminID
	w.ProcessedAt = bun.NullTime{Time: now}
	return nil
}

func (w *Withdrawal) Complete(txRef string) error {
	if w.Status != common.WithdrawalStatusProcessing {
		return fmt.Errorf("complete withdrawal in status %s: %w", w.Status, common.ErrInvalidState)
	}
	w.Status = common.WithdrawalStatusCompleted
	w.SubmissionState = common.SubmissionSettled
	w.NetworkTxRef = txRef
	return nil
}

func (w *Withdrawal) Fail(reason string) error {
	if w.Status != common.WithdrawalStatusProcessing {
		return fmt.Errorf("fail withdrawal in status %s: %w", w.Status, common.ErrInvalidState)
	}
	w.Status = common.WithdrawalStatusFailed
	w.SubmissionState = common.SubmissionFailed
	w.FailureReason = reason
	return nil
}

// MarkUnknown keeps the withdrawal PROCESSING until reconciliation learns
// what happened to the payment.
func (w *Withdrawal) MarkUnknown(reason string) {
	w.SubmissionState = common.SubmissionUnknown
	w.FailureReason = reason
}

func (w *Withdrawal) Reject(adminID int64, reason string, now time.Time) error {
	if w.Status != common.WithdrawalStatusPending {
		return fmt.Errorf("reject withdrawal in status %s: %w", w.Status, common.ErrInvalidState)
	}
	w.Status = common.WithdrawalStatusCancelled
	w.ProcessedBy = adminID
	w.ProcessedAt = bun.NullTime{Time: now}
	w.FailureReason = reason
	return nil
}

func (w *Withdrawal) Cancel() error {
	if w.Status != common.WithdrawalStatusPending {
		return fmt.Errorf("cancel withdrawal in status %s: %w", w.Status, common.ErrInvalidState)
	}
	w.Status = common.WithdrawalStatusCancelled
	return nil
}
