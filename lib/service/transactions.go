package service

import (
	"context"
	"fmt"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db"
	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
)

// recordTransaction appends a ledger row. A reference that was already
// recorded means the movement is being replayed.
func (svc *EscrowService) recordTransaction(ctx context.Context, idb bun.IDB, t *models.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = svc.now()
	}
	if t.NetAmount == 0 {
		t.NetAmount = t.Amount - t.Fee
	}
	if t.Status != common.TransactionStatusPending && t.CompletedAt.IsZero() {
		t.CompletedAt.Time = t.CreatedAt
	}
	if _, err := idb.NewInsert().Model(t).Exec(ctx); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("reference %s: %w", t.Reference, common.ErrDuplicateReference)
		}
		return err
	}
	return nil
}

// RecordTransaction appends a ledger row outside any other operation.
func (svc *EscrowService) RecordTransaction(ctx context.Context, t *models.Transaction) error {
	return svc.recordTransaction(ctx, svc.DB, t)
}

func (svc *EscrowService) findTransaction(ctx context.Context, idb bun.IDB, id int64) (*models.Transaction, error) {
	t := &models.Transaction{}
	if err := idb.NewSelect().Model(t).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return t, nil
}

func (svc *EscrowService) FindTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return svc.findTransaction(ctx, svc.DB, id)
}

// finalizeTransaction persists a terminal status on a row that must still
// be PENDING in the database.
func (svc *EscrowService) finalizeTransaction(ctx context.Context, idb bun.IDB, t *models.Transaction) error {
	res, err := idb.NewUpdate().Model(t).
		Column("status", "reference", "error_detail", "completed_at").
		WherePK().
		Where("status = ?", common.TransactionStatusPending).
		Exec(ctx)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("reference %s: %w", t.Reference, common.ErrDuplicateReference)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", t.ID, common.ErrAlreadyFinal)
	}
	return nil
}

func (svc *EscrowService) markTransactionSuccess(ctx context.Context, idb bun.IDB, id int64, reference string) (*models.Transaction, error) {
	t, err := svc.findTransaction(ctx, idb, id)
	if err != nil {
		return nil, err
	}
	if err := t.MarkSuccess(reference, svc.now()); err != nil {
		return nil, err
	}
	return t, svc.finalizeTransaction(ctx, idb, t)
}

func (svc *EscrowService) markTransactionFailed(ctx context.Context, idb bun.IDB, id int64, detail string) (*models.Transaction, error) {
	t, err := svc.findTransaction(ctx, idb, id)
	if err != nil {
		return nil, err
	}
	if err := t.MarkFailed(detail, svc.now()); err != nil {
		return nil, err
	}
	return t, svc.finalizeTransaction(ctx, idb, t)
}

func (svc *EscrowService) markTransactionCancelled(ctx context.Context, idb bun.IDB, id int64, detail string) (*models.Transaction, error) {
	t, err := svc.findTransaction(ctx, idb, id)
	if err != nil {
		return nil, err
	}
	if err := t.MarkCancelled(detail, svc.now()); err != nil {
		return nil, err
	}
	return t, svc.finalizeTransaction(ctx, idb, t)
}

func (svc *EscrowService) MarkTransactionSuccess(ctx context.Context, id int64, reference string) (*models.Transaction, error) {
	return svc.markTransactionSuccess(ctx, svc.DB, id, reference)
}

func (svc *EscrowService) MarkTransactionFailed(ctx context.Context, id int64, detail string) (*models.Transaction, error) {
	return svc.markTransactionFailed(ctx, svc.DB, id, detail)
}

type TransactionFilter struct {
	UserID int64
	Type   string
	Status string
	Limit  int
	Offset int
}

func (svc *EscrowService) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	query := svc.DB.NewSelect().Model(&transactions).OrderExpr("created_at DESC, id DESC")
	if filter.UserID != 0 {
		query = query.Where("user_id = ? OR counterparty_id = ?", filter.UserID, filter.UserID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	err := query.Limit(limit).Offset(filter.Offset).Scan(ctx)
	return transactions, err
}

// pendingTransactionFor finds the open row of txType for an escrow, if any.
func (svc *EscrowService) pendingTransactionFor(ctx context.Context, idb bun.IDB, escrowID int64, txType string) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := idb.NewSelect().Model(t).
		Where("escrow_id = ?", escrowID).
		Where("type = ?", txType).
		Where("status = ?", common.TransactionStatusPending).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "pending transaction for escrow", escrowID)
	}
	return t, nil
}
