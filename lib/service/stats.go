package service

import (
	"context"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type PlatformStats struct {
	TotalVolume           int64 `json:"total_volume"`
	PlatformFees          int64 `json:"platform_fees"`
	ProviderPayouts       int64 `json:"provider_payouts"`
	FundedEscrowTotal     int64 `json:"funded_escrow_total"`
	CompletedTransactions int   `json:"completed_transactions"`
	PendingWithdrawals    int   `json:"pending_withdrawals"`
	PendingWithdrawalSum  int64 `json:"pending_withdrawal_sum"`
	ActiveContracts       int   `json:"active_contracts"`
	DisputedEscrows       int   `json:"disputed_escrows"`
}

// sumSuccessful adds up column over SUCCESS rows of the given types.
func (svc *EscrowService) sumSuccessful(ctx context.Context, column string, txTypes ...string) (int64, error) {
	var sum int64
	query := svc.DB.NewSelect().Model((*models.Transaction)(nil)).
		ColumnExpr("COALESCE(SUM(?), 0)", bun.Ident(column)).
		Where("status = ?", common.TransactionStatusSuccess)
	if len(txTypes) > 0 {
		query = query.Where("type IN (?)", bun.In(txTypes))
	}
	err := query.Scan(ctx, &sum)
	return sum, err
}

func (svc *EscrowService) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	stats := &PlatformStats{}
	var err error
	if stats.TotalVolume, err = svc.sumSuccessful(ctx, "amount", common.TransactionTypeEscrowRelease); err != nil {
		return nil, err
	}
	if stats.PlatformFees, err = svc.sumSuccessful(ctx, "amount", common.TransactionTypePlatformFee); err != nil {
		return nil, err
	}
	if stats.ProviderPayouts, err = svc.sumSuccessful(ctx, "net_amount", common.TransactionTypeEscrowRelease); err != nil {
		return nil, err
	}
	err = svc.DB.NewSelect().Model((*models.Escrow)(nil)).
		ColumnExpr("COALESCE(SUM(total_amount), 0)").
		Where("status IN (?)", bun.In([]string{common.EscrowStatusFunded, common.EscrowStatusInProgress})).
		Scan(ctx, &stats.FundedEscrowTotal)
	if err != nil {
		return nil, err
	}
	if stats.CompletedTransactions, err = svc.DB.NewSelect().Model((*models.Transaction)(nil)).
		Where("status = ?", common.TransactionStatusSuccess).
		Count(ctx); err != nil {
		return nil, err
	}
	err = svc.DB.NewSelect().Model((*models.Withdrawal)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("status IN (?)", bun.In([]string{common.WithdrawalStatusPending, common.WithdrawalStatusProcessing})).
		Scan(ctx, &stats.PendingWithdrawals, &stats.PendingWithdrawalSum)
	if err != nil {
		return nil, err
	}
	if stats.ActiveContracts, err = svc.DB.NewSelect().Model((*models.Contract)(nil)).
		Where("status = ?", common.ContractStatusActive).
		Count(ctx); err != nil {
		return nil, err
	}
	if stats.DisputedEscrows, err = svc.DB.NewSelect().Model((*models.Escrow)(nil)).
		Where("status = ?", common.EscrowStatusDisputed).
		Count(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// MonthlyStat aggregates successful ledger rows of one calendar month (UTC).
type MonthlyStat struct {
	Month  string `json:"month" bun:"month"`
	Volume int64  `json:"volume" bun:"volume"`
	Fees   int64  `json:"fees" bun:"fees"`
	Count  int    `json:"count" bun:"count"`
}

// monthExpr renders created_at as YYYY-MM. bun stores sqlite timestamps as
// UTC text, so the prefix is the month.
func (svc *EscrowService) monthExpr() string {
	if svc.DB.Dialect().Name() == dialect.PG {
		return "to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM')"
	}
	return "substr(created_at, 1, 7)"
}

// MonthlyStats reports the last twelve months with successful activity,
// most recent first.
func (svc *EscrowService) MonthlyStats(ctx context.Context) ([]MonthlyStat, error) {
	stats := []MonthlyStat{}
	err := svc.DB.NewSelect().Model((*models.Transaction)(nil)).
		ColumnExpr(svc.monthExpr()+" AS month").
		ColumnExpr("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS volume", common.TransactionTypeEscrowRelease).
		ColumnExpr("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS fees", common.TransactionTypePlatformFee).
		ColumnExpr("COUNT(*) AS count").
		Where("status = ?", common.TransactionStatusSuccess).
		GroupExpr("month").
		OrderExpr("month DESC").
		Limit(12).
		Scan(ctx, &stats)
	return stats, err
}
