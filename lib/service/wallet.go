package service

import (
	"context"
	"fmt"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
)

// getOrCreateWallet creates the wallet of userID on first use.
func (svc *EscrowService) getOrCreateWallet(ctx context.Context, idb bun.IDB, userID int64) (*models.Wallet, error) {
	wallet := &models.Wallet{UserID: userID, CreatedAt: svc.now()}
	_, err := idb.NewInsert().Model(wallet).On("CONFLICT (user_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, err
	}
	wallet = &models.Wallet{}
	if err := idb.NewSelect().Model(wallet).Where("user_id = ?", userID).Limit(1).Scan(ctx); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (svc *EscrowService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	return svc.getOrCreateWallet(ctx, svc.DB, userID)
}

// walletUpdate applies balance expressions in one statement. guard, when
// set, is an extra WHERE condition; a row that does not satisfy it is
// reported as ErrInsufficientBalance.
func (svc *EscrowService) walletUpdate(ctx context.Context, idb bun.IDB, userID int64, guard string, guardArg int64, sets map[string]int64) error {
	if _, err := svc.getOrCreateWallet(ctx, idb, userID); err != nil {
		return err
	}
	query := idb.NewUpdate().Model((*models.Wallet)(nil)).Where("user_id = ?", userID)
	for _, column := range []string{"available_balance", "pending_balance", "total_earned", "total_withdrawn"} {
		if delta, ok := sets[column]; ok {
			query = query.Set("? = ? + ?", bun.Ident(column), bun.Ident(column), delta)
		}
	}
	query = query.Set("updated_at = ?", svc.now())
	if guard != "" {
		query = query.Where(guard, guardArg)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("wallet of user %d: %w", userID, common.ErrInsufficientBalance)
	}
	return nil
}

// creditWallet adds earnings. The caller records the transaction row that
// justifies the credit in the same database transaction.
func (svc *EscrowService) creditWallet(ctx context.Context, idb bun.IDB, userID, amount int64) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	return svc.walletUpdate(ctx, idb, userID, "", 0, map[string]int64{
		"available_balance": amount,
		"total_earned":      amount,
	})
}

// debitWallet is an atomic decrement-if-sufficient.
func (svc *EscrowService) debitWallet(ctx context.Context, idb bun.IDB, userID, amount int64) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	return svc.walletUpdate(ctx, idb, userID, "available_balance >= ?", amount, map[string]int64{
		"available_balance": -amount,
		"total_withdrawn":   amount,
	})
}

// reserveFunds moves amount from available to pending while a payout is in flight.
func (svc *EscrowService) reserveFunds(ctx context.Context, idb bun.IDB, userID, amount int64) error {
	return svc.walletUpdate(ctx, idb, userID, "available_balance >= ?", amount, map[string]int64{
		"available_balance": -amount,
		"pending_balance":   amount,
	})
}

func (svc *EscrowService) releaseReservation(ctx context.Context, idb bun.IDB, userID, amount int64) error {
	return svc.walletUpdate(ctx, idb, userID, "pending_balance >= ?", amount, map[string]int64{
		"available_balance": amount,
		"pending_balance":   -amount,
	})
}

func (svc *EscrowService) settleReservation(ctx context.Context, idb bun.IDB, userID, amount int64) error {
	return svc.walletUpdate(ctx, idb, userID, "pending_balance >= ?", amount, map[string]int64{
		"pending_balance": -amount,
		"total_withdrawn": amount,
	})
}

// Deposit credits an externally confirmed deposit. reference is the
// network transaction and can only be credited once.
func (svc *EscrowService) Deposit(ctx context.Context, userID, amount int64, reference string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if reference == "" {
		return nil, fmt.Errorf("deposit reference is required: %w", common.ErrInvalidState)
	}
	t := &models.Transaction{
		Type:        common.TransactionTypeDeposit,
		Status:      common.TransactionStatusSuccess,
		UserID:      userID,
		Amount:      amount,
		NetAmount:   amount,
		Reference:   reference,
		Description: "deposit",
	}
	err := svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.recordTransaction(ctx, tx, t); err != nil {
			return err
		}
		return svc.creditWallet(ctx, tx, userID, amount)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

type WalletSync struct {
	Wallet         *models.Wallet `json:"wallet"`
	NetworkBalance int64          `json:"network_balance"`
	// LedgerBalance is available plus pending, the amount the network
	// account is expected to cover.
	LedgerBalance int64 `json:"ledger_balance"`
	Difference    int64 `json:"difference"`
}

// SyncWallet compares the local ledger with the balance of the user's
// network account. The ledger is never overwritten from the network.
func (svc *EscrowService) SyncWallet(ctx context.Context, userID int64, address string) (*WalletSync, error) {
	wallet, err := svc.getOrCreateWallet(ctx, svc.DB, userID)
	if err != nil {
		return nil, err
	}
	if address == "" {
		address = wallet.NetworkAddress
	}
	if address == "" {
		return nil, fmt.Errorf("no network address for user %d: %w", userID, common.ErrInvalidState)
	}
	balance, err := svc.Network.GetAccountBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	now := svc.now()
	wallet.NetworkAddress = address
	wallet.NetworkBalance = balance.Amount
	wallet.LastSyncedAt = bun.NullTime{Time: now}
	_, err = svc.DB.NewUpdate().Model(wallet).
		Column("network_address", "network_balance", "last_synced_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	ledger := wallet.AvailableBalance + wallet.PendingBalance
	if ledger != balance.Amount {
		svc.Logger.Warnf("Wallet of user %d diverges from network account %s: ledger %s network %s",
			userID, address, models.FormatAmount(ledger), models.FormatAmount(balance.Amount))
	}
	return &WalletSync{
		Wallet:         wallet,
		NetworkBalance: balance.Amount,
		LedgerBalance:  ledger,
		Difference:     balance.Amount - ledger,
	}, nil
}
