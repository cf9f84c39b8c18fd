package service

import (
	"context"
	"sync"
	"testing"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depositFor(t *testing.T, svc *EscrowService, userID, amount int64, reference string) {
	t.Helper()
	_, err := svc.Deposit(context.Background(), userID, amount, reference)
	require.NoError(t, err)
}

func countRows(t *testing.T, svc *EscrowService, model interface{}) int {
	t.Helper()
	n, err := svc.DB.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRequestWithdrawalValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 5000, "deposit-1")

	_, err := svc.RequestWithdrawal(ctx, providerID, 0, "provider-bank")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = svc.RequestWithdrawal(ctx, providerID, 50, "provider-bank")
	assert.ErrorIs(t, err, common.ErrBelowMinimum)

	_, err = svc.RequestWithdrawal(ctx, providerID, 1000, "")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = svc.RequestWithdrawal(ctx, providerID, 6000, "provider-bank")
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	// nothing but the deposit was written
	assert.Equal(t, 0, countRows(t, svc, (*models.Withdrawal)(nil)))
	assert.Equal(t, 1, countRows(t, svc, (*models.Transaction)(nil)))

	_, err = svc.Deposit(ctx, providerID, 5000, "deposit-1")
	assert.ErrorIs(t, err, common.ErrDuplicateReference)
}

func TestWithdrawalApproved(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusPending, withdrawal.Status)
	require.NotZero(t, withdrawal.TransactionID)

	pending, err := svc.FindTransaction(ctx, withdrawal.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, common.TransactionStatusPending, pending.Status)
	assert.Equal(t, common.TransactionTypeWithdrawal, pending.Type)

	withdrawal, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusCompleted, withdrawal.Status)
	assert.NotEmpty(t, withdrawal.NetworkTxRef)
	assert.Equal(t, 1, network.Calls(settlement.OpSendPayment))

	done, err := svc.FindTransaction(ctx, withdrawal.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, common.TransactionStatusSuccess, done.Status)
	assert.Equal(t, withdrawal.IdempotencyKey, done.IdempotencyKey)
	assert.Equal(t, withdrawal.NetworkTxRef, done.Reference)

	wallet, err := svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), wallet.AvailableBalance)
	assert.Equal(t, int64(0), wallet.PendingBalance)
	assert.Equal(t, int64(4000), wallet.TotalWithdrawn)

	_, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, 1, network.Calls(settlement.OpSendPayment))
}

func TestWithdrawalRejectedByAdmin(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)

	withdrawal, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, false, "destination not verified")
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusCancelled, withdrawal.Status)
	assert.Equal(t, adminID, withdrawal.ProcessedBy)
	assert.Equal(t, 0, network.Calls(settlement.OpSendPayment))

	rejected, err := svc.FindTransaction(ctx, withdrawal.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, common.TransactionStatusFailed, rejected.Status)
	assert.Equal(t, "Rejected by admin: destination not verified", rejected.ErrorDetail)

	wallet, err := svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), wallet.AvailableBalance)
}

func TestCancelWithdrawal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)

	_, err = svc.CancelWithdrawal(ctx, withdrawal.ID, requesterID)
	assert.ErrorIs(t, err, common.ErrNotAParty)

	withdrawal, err = svc.CancelWithdrawal(ctx, withdrawal.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusCancelled, withdrawal.Status)

	cancelled, err := svc.FindTransaction(ctx, withdrawal.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, common.TransactionStatusFailed, cancelled.Status)
	assert.Equal(t, "Cancelled by user", cancelled.ErrorDetail)

	_, err = svc.CancelWithdrawal(ctx, withdrawal.ID, providerID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	list, err := svc.ListWithdrawals(ctx, providerID, common.WithdrawalStatusCancelled)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApprovalReservesFunds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 5000, "deposit-1")

	// both requests pass the advisory check, only one can be covered
	first, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)
	second, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)

	_, err = svc.ProcessWithdrawal(ctx, first.ID, adminID, true, "")
	require.NoError(t, err)

	_, err = svc.ProcessWithdrawal(ctx, second.ID, adminID, true, "")
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	second, err = svc.FindWithdrawal(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusPending, second.Status)

	wallet, err := svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wallet.AvailableBalance)
}

func TestConcurrentWithdrawalsCannotOverdraw(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 5000, "deposit-1")

	ids := []int64{}
	for i := 0; i < 3; i++ {
		w, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.ProcessWithdrawal(ctx, id, adminID, true, "")
			if err != nil {
				assert.ErrorIs(t, err, common.ErrInsufficientBalance)
				return
			}
			mu.Lock()
			completed++
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, network.Calls(settlement.OpSendPayment))

	wallet, err := svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wallet.AvailableBalance)
	assert.Equal(t, int64(0), wallet.PendingBalance)
	assert.Equal(t, int64(4000), wallet.TotalWithdrawn)
}

func TestWithdrawalTimeoutIsReconciled(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)

	network.ApplyThenFail(settlement.OpSendPayment, common.ErrNetworkTimeout)
	_, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	assert.ErrorIs(t, err, common.ErrNetworkTimeout)

	withdrawal, err = svc.FindWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusProcessing, withdrawal.Status)
	assert.Equal(t, common.SubmissionUnknown, withdrawal.SubmissionState)

	wallet, err := svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), wallet.AvailableBalance)
	assert.Equal(t, int64(4000), wallet.PendingBalance)

	withdrawal, action, err := svc.ReconcileWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionWithdrawalCompleted, action)
	assert.Equal(t, common.WithdrawalStatusCompleted, withdrawal.Status)
	assert.Equal(t, 1, network.Calls(settlement.OpSendPayment))

	wallet, err = svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.PendingBalance)
	assert.Equal(t, int64(4000), wallet.TotalWithdrawn)
}

func TestLostWithdrawalIsResentWithSameKey(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)

	network.FailNext(settlement.OpSendPayment, common.ErrNetworkUnavailable)
	_, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	assert.ErrorIs(t, err, common.ErrNetworkUnavailable)

	before, err := svc.FindWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)

	after, action, err := svc.ReconcileWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionWithdrawalResubmit, action)
	assert.Equal(t, common.WithdrawalStatusCompleted, after.Status)
	assert.Equal(t, before.IdempotencyKey, after.IdempotencyKey)
	assert.Equal(t, 2, network.Calls(settlement.OpSendPayment))
}

func TestWithdrawalRejectedByNetwork(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 4000, "provider-bank")
	require.NoError(t, err)

	network.FailNext(settlement.OpSendPayment, common.ErrRemoteRejected)
	_, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	assert.ErrorIs(t, err, common.ErrRemoteRejected)

	withdrawal, err = svc.FindWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusFailed, withdrawal.Status)

	failed, err := svc.FindTransaction(ctx, withdrawal.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, common.TransactionStatusFailed, failed.Status)

	wallet, err := svc.GetWallet(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), wallet.AvailableBalance)
	assert.Equal(t, int64(0), wallet.PendingBalance)
}
