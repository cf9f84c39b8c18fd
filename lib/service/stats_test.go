package service

import (
	"context"
	"testing"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	earlier := now.AddDate(0, -2, 0)

	stats, err := svc.MonthlyStats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)

	require.NoError(t, svc.RecordTransaction(ctx, &models.Transaction{
		Type:      common.TransactionTypeEscrowRelease,
		Status:    common.TransactionStatusSuccess,
		UserID:    providerID,
		Amount:    5000,
		CreatedAt: earlier,
	}))
	require.NoError(t, svc.RecordTransaction(ctx, &models.Transaction{
		Type:      common.TransactionTypeDeposit,
		Status:    common.TransactionStatusPending,
		UserID:    providerID,
		Amount:    700,
		CreatedAt: earlier,
	}))

	_, escrow := fundedEscrow(t, svc, 60)
	_, err = svc.ApproveEscrow(ctx, escrow.ID, requesterID)
	require.NoError(t, err)
	_, err = svc.ApproveEscrow(ctx, escrow.ID, providerID)
	require.NoError(t, err)
	depositFor(t, svc, providerID, 3000, "deposit-1")

	stats, err = svc.MonthlyStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, now.Format("2006-01"), stats[0].Month)
	assert.Equal(t, contractAmount, stats[0].Volume)
	assert.Equal(t, expectedFee, stats[0].Fees)
	// create, fund, release, fee and deposit
	assert.Equal(t, 5, stats[0].Count)

	assert.Equal(t, earlier.Format("2006-01"), stats[1].Month)
	assert.Equal(t, int64(5000), stats[1].Volume)
	assert.Equal(t, int64(0), stats[1].Fees)
	assert.Equal(t, 1, stats[1].Count)
}
