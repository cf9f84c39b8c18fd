package models

import (
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

// Transaction : append-only audit row of an attempted money movement.
// Only PENDING rows may advance.
type Transaction struct {
	ID             int64        `json:"id" bun:",pk,autoincrement"`
	Type           string       `json:"type" bun:",notnull"`
	Status         string       `json:"status" bun:",notnull"`
	UserID         int64        `json:"user_id,omitempty" bun:",nullzero"`
	CounterpartyID int64        `json:"counterparty_id,omitempty" bun:",nullzero"`
	ContractID     int64        `json:"contract_id,omitempty" bun:",nullzero"`
	EscrowID       int64        `json:"escrow_id,omitempty" bun:",nullzero"`
	WithdrawalID   int64        `json:"withdrawal_id,omitempty" bun:",nullzero"`
	Amount         int64        `json:"amount" bun:",notnull"`
	Fee            int64        `json:"fee" bun:",notnull,default:0"`
	NetAmount      int64        `json:"net_amount" bun:",notnull"`
	Reference      string       `json:"reference,omitempty" bun:",unique,nullzero"`
	IdempotencyKey string       `json:"idempotency_key,omitempty" bun:",nullzero"`
	Description    string       `json:"description,omitempty" bun:",nullzero"`
	ErrorDetail    string       `json:"error_detail,omitempty" bun:",nullzero"`
	CreatedAt      time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	CompletedAt    bun.NullTime `json:"completed_at"`
}

func (t *Transaction) IsFinal() bool {
	return t.Status != common.TransactionStatusPending
}

func (t *Transaction) MarkSuccess(reference string, now time.Time) error {
	if t.IsFinal() {
		return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, common.ErrAlreadyFinal)
	}
	t.Status = common.TransactionStatusSuccess
	if reference != "" {
		t.Reference = reference
	}
	t.CompletedAt = bun.NullTime{Time: now}
	return nil
}

func (t *Transaction) MarkFailed(detail string, now time.Time) error {
	if t.IsFinal() {
		return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, common.ErrAlreadyFinal)
	}
	t.Status = common.TransactionStatusFailed
	t.ErrorDetail = detail
	t.CompletedAt = bun.NullTime{Time: now}
	return nil
}

func (t *Transaction) MarkCancelled(detail string, now time.Time) error {
	if t.IsFinal() {
		return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, common.ErrAlreadyFinal)
	}
	t.Status = common.TransactionStatusCancelled
	t.ErrorDetail = detail
	t.CompletedAt = bun.NullTime{Time: now}
	return nil
}
