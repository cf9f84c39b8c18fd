package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileAll(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()

	// release settled on the network, response lost
	_, released := fundedEscrow(t, svc, 60)
	_, err := svc.ApproveEscrow(ctx, released.ID, requesterID)
	require.NoError(t, err)
	network.ApplyThenFail(settlement.OpReleasePayment, common.ErrNetworkTimeout)
	_, err = svc.ApproveEscrow(ctx, released.ID, providerID)
	require.Error(t, err)

	// deposit settled on the network, response lost
	_, funded := activeContract(t, svc, 61)
	network.ApplyThenFail(settlement.OpFundEscrow, common.ErrNetworkTimeout)
	_, err = svc.FundEscrow(ctx, funded.ID, requesterID, funded.TotalAmount)
	require.Error(t, err)

	// nothing to do
	fundedEscrow(t, svc, 62)

	depositFor(t, svc, outsiderID, 8000, "deposit-1")
	withdrawal, err := svc.RequestWithdrawal(ctx, outsiderID, 3000, "outsider-bank")
	require.NoError(t, err)
	network.ApplyThenFail(settlement.OpSendPayment, common.ErrNetworkTimeout)
	_, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	require.Error(t, err)

	summary, err := svc.ReconcileAll(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Escrows)
	assert.Equal(t, 1, summary.Withdrawals)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, map[string]int{
		ActionReleased:            1,
		ActionFunded:              1,
		ActionWithdrawalCompleted: 1,
	}, summary.Actions)

	released, err = svc.FindEscrow(ctx, released.ID)
	require.NoError(t, err)
	assert.Equal(t, common.EscrowStatusCompleted, released.Status)
	funded, err = svc.FindEscrow(ctx, funded.ID)
	require.NoError(t, err)
	assert.Equal(t, common.EscrowStatusFunded, funded.Status)

	// the completed escrow is no longer visited
	summary, err = svc.ReconcileAll(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Escrows)
	assert.Equal(t, 0, summary.Withdrawals)
	assert.Empty(t, summary.Actions)

	assert.Equal(t, 1, network.Calls(settlement.OpReleasePayment))
	assert.Equal(t, 1, network.Calls(settlement.OpSendPayment))
}

func TestReconcileAllCountsNetworkErrors(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	fundedEscrow(t, svc, 63)

	network.FailNext(settlement.OpGetEscrowStatus, common.ErrNetworkUnavailable)
	summary, err := svc.ReconcileAll(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Escrows)
	assert.Equal(t, 1, summary.Errors)
}

func TestFailedCommitIsNotCountedAsAction(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	_, escrow := fundedEscrow(t, svc, 64)
	_, err := svc.ApproveEscrow(ctx, escrow.ID, requesterID)
	require.NoError(t, err)
	network.ApplyThenFail(settlement.OpReleasePayment, common.ErrNetworkTimeout)
	_, err = svc.ApproveEscrow(ctx, escrow.ID, providerID)
	require.Error(t, err)

	// the ledger already holds the release reference, so the commit fails
	status, err := network.GetEscrowStatus(ctx, escrow.NetworkEscrowID)
	require.NoError(t, err)
	require.NotEmpty(t, status.ReleaseTxRef)
	depositFor(t, svc, outsiderID, 500, status.ReleaseTxRef)

	result, err := svc.ReconcileEscrow(ctx, escrow.ID)
	assert.ErrorIs(t, err, common.ErrDuplicateReference)
	require.NotNil(t, result)
	assert.Equal(t, ActionNone, result.Action)
	assert.Equal(t, common.EscrowStatusInProgress, result.After)

	summary, err := svc.ReconcileAll(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Zero(t, summary.Actions[ActionReleased])
}

func TestHandleSettlementEventForEscrow(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	_, escrow := fundedEscrow(t, svc, 64)

	_, err := svc.ApproveEscrow(ctx, escrow.ID, requesterID)
	require.NoError(t, err)
	network.ApplyThenFail(settlement.OpReleasePayment, common.ErrNetworkTimeout)
	_, err = svc.ApproveEscrow(ctx, escrow.ID, providerID)
	require.Error(t, err)

	payload := fmt.Sprintf(`{"type":"escrow.completed","escrow_id":%q}`, escrow.NetworkEscrowID)
	require.NoError(t, svc.HandleSettlementEvent(ctx, []byte(payload)))

	escrow, err = svc.FindEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, common.EscrowStatusCompleted, escrow.Status)

	// redelivery is harmless
	require.NoError(t, svc.HandleSettlementEvent(ctx, []byte(payload)))
	assert.Equal(t, 1, network.Calls(settlement.OpReleasePayment))
}

func TestHandleSettlementEventForWithdrawal(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	depositFor(t, svc, providerID, 10000, "deposit-1")

	withdrawal, err := svc.RequestWithdrawal(ctx, providerID, 2500, "provider-bank")
	require.NoError(t, err)
	network.ApplyThenFail(settlement.OpSendPayment, common.ErrNetworkTimeout)
	_, err = svc.ProcessWithdrawal(ctx, withdrawal.ID, adminID, true, "")
	require.Error(t, err)

	withdrawal, err = svc.FindWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)
	payload := fmt.Sprintf(`{"type":"payment.settled","reference":%q}`, withdrawal.IdempotencyKey)
	require.NoError(t, svc.HandleSettlementEvent(ctx, []byte(payload)))

	withdrawal, err = svc.FindWithdrawal(ctx, withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, common.WithdrawalStatusCompleted, withdrawal.Status)
}

func TestHandleSettlementEventRejectsUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Error(t, svc.HandleSettlementEvent(ctx, []byte("{not json")))

	err := svc.HandleSettlementEvent(ctx, []byte(`{"type":"escrow.completed","escrow_id":"escrow_9_999"}`))
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = svc.HandleSettlementEvent(ctx, []byte(`{"type":"payment.settled","reference":"unknown-key"}`))
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.NoError(t, svc.HandleSettlementEvent(ctx, []byte(`{"type":"heartbeat"}`)))
}
