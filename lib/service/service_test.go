package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db"
	"github.com/homechain/escrowhub/db/migrations"
	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/settlement"
	"github.com/homechain/escrowhub/settlement/settlementtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"
	"github.com/ziflex/lecho/v3"
)

const (
	requesterID = int64(1)
	providerID  = int64(2)
	outsiderID  = int64(3)
	adminID     = int64(99)

	// 200.00, 5% fee is 10.00
	contractAmount = int64(20000)
	expectedFee    = int64(1000)
)

func newTestService(t *testing.T) (*EscrowService, *settlementtest.Network) {
	t.Helper()
	dbConn, err := db.Open(&db.Config{
		DatabaseUri: "sqlite://" + filepath.Join(t.TempDir(), "escrowhub.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	ctx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	network := settlementtest.NewNetwork()
	svc := &EscrowService{
		Config: &Config{
			BaseCurrency:           "USD",
			WithdrawalMinimum:      100,
			ReconcileInFlightAfter: 2 * time.Minute,
			ReconcileMaxAttempts:   3,
			ReconcileBatchSize:     2,
			MaxConflictRetries:     10,
		},
		DB:            dbConn,
		Network:       network,
		SettlementCfg: &settlement.Config{PlatformAddress: "platform-account"},
		Logger:        lecho.New(io.Discard),
		Audit:         zerolog.Nop(),
	}
	return svc, network
}

func newContract(t *testing.T, svc *EscrowService, jobID int64) *models.Contract {
	t.Helper()
	contract, err := svc.CreateContract(context.Background(), CreateContractParams{
		JobID:            jobID,
		RequesterID:      requesterID,
		ProviderID:       providerID,
		RequesterAddress: "requester-account",
		ProviderAddress:  "provider-account",
		Title:            "Fix the roof",
		Terms:            "Replace broken tiles on the north side",
		PaymentAmount:    contractAmount,
		StartDate:        time.Now().UTC(),
		EndDate:          time.Now().UTC().Add(14 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return contract
}

// activeContract returns a contract signed by both parties and its
// provisioned escrow.
func activeContract(t *testing.T, svc *EscrowService, jobID int64) (*models.Contract, *models.Escrow) {
	t.Helper()
	ctx := context.Background()
	contract := newContract(t, svc, jobID)
	_, err := svc.SignContract(ctx, contract.ID, requesterID, "10.0.0.1")
	require.NoError(t, err)
	result, err := svc.SignContract(ctx, contract.ID, providerID, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, result.Activated)
	require.NotNil(t, result.Escrow)
	return result.Contract, result.Escrow
}

func fundedEscrow(t *testing.T, svc *EscrowService, jobID int64) (*models.Contract, *models.Escrow) {
	t.Helper()
	contract, escrow := activeContract(t, svc, jobID)
	escrow, err := svc.FundEscrow(context.Background(), escrow.ID, requesterID, escrow.TotalAmount)
	require.NoError(t, err)
	require.Equal(t, common.EscrowStatusFunded, escrow.Status)
	return contract, escrow
}

func transactionsOf(t *testing.T, svc *EscrowService, escrowID int64, txType string) []models.Transaction {
	t.Helper()
	transactions := []models.Transaction{}
	err := svc.DB.NewSelect().Model(&transactions).
		Where("escrow_id = ?", escrowID).
		Where("type = ?", txType).
		OrderExpr("id ASC").
		Scan(context.Background())
	require.NoError(t, err)
	return transactions
}
