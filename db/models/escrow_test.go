package models

import (
	"testing"

	"github.com/homechain/escrowhub/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fundedEscrow() *Escrow {
	c := pendingContract()
	e := NewEscrow(c, CalculateFee(c.PaymentAmount, DefaultFeeSchedule()), 0, testNow)
	e.ID = 3
	e.MarkProvisioned(e.ExpectedNetworkID(), "tx-create")
	_ = e.MarkFunded("tx-fund", testNow)
	return e
}

func TestNewEscrowFreezesFee(t *testing.T) {
	c := pendingContract()
	e := NewEscrow(c, 750, 0, testNow)
	assert.Equal(t, int64(15000), e.TotalAmount)
	assert.Equal(t, int64(750), e.PlatformFee)
	assert.Equal(t, int64(14250), e.ProviderAmount)
	assert.Equal(t, common.EscrowStatusPending, e.Status)
	assert.Equal(t, "escrow_42_7", e.ExpectedNetworkID())
}

func TestFundRequiresProvisionedEscrow(t *testing.T) {
	e := NewEscrow(pendingContract(), 750, 0, testNow)
	_, err := e.BeginFund(15000, testNow)
	assert.ErrorIs(t, err, common.ErrEscrowNotProvisioned)

	e.MarkProvisioned("escrow_42_7", "tx")
	_, err = e.BeginFund(100, testNow)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	key, err := e.BeginFund(15000, testNow)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	_, err = e.BeginFund(15000, testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestApproveFirstPartyMovesToInProgress(t *testing.T) {
	e := fundedEscrow()
	ready, err := e.Approve(common.PartyRequester, testNow)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, common.EscrowStatusInProgress, e.Status)

	_, err = e.Approve(common.PartyRequester, testNow)
	assert.ErrorIs(t, err, common.ErrAlreadyApproved)

	ready, err = e.Approve(common.PartyProvider, testNow)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestApproveBeforeFundingFails(t *testing.T) {
	e := NewEscrow(pendingContract(), 750, 0, testNow)
	_, err := e.Approve(common.PartyRequester, testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestApproveDisputedEscrowIsFrozen(t *testing.T) {
	e := fundedEscrow()
	require.NoError(t, e.Dispute("bad work", testNow))
	_, err := e.Approve(common.PartyProvider, testNow)
	assert.ErrorIs(t, err, common.ErrFrozen)
}

func TestReleaseAttemptsAndKeys(t *testing.T) {
	e := fundedEscrow()
	_, _ = e.Approve(common.PartyRequester, testNow)
	_, _ = e.Approve(common.PartyProvider, testNow)

	key, err := e.BeginRelease(testNow)
	require.NoError(t, err)
	assert.Equal(t, "escrow-3-release-1", key)

	// no second submission while the first is in flight
	_, err = e.BeginRelease(testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	e.MarkReleaseFailed(true)
	assert.False(t, e.ReleaseReady())
	resumed, err := e.ResumeRelease(testNow)
	require.NoError(t, err)
	assert.Equal(t, key, resumed)

	e.MarkReleaseFailed(false)
	key, err = e.BeginRelease(testNow)
	require.NoError(t, err)
	assert.Equal(t, "escrow-3-release-2", key)

	require.NoError(t, e.CompleteRelease("tx-release", testNow))
	assert.Equal(t, common.EscrowStatusCompleted, e.Status)
	assert.Equal(t, e.TotalAmount-e.PlatformFee, e.ReleasedAmount)
	assert.ErrorIs(t, e.CompleteRelease("tx-release", testNow), common.ErrInvalidState)
}

func TestDisputeRefusedWhileReleaseInFlight(t *testing.T) {
	e := fundedEscrow()
	_, _ = e.Approve(common.PartyRequester, testNow)
	_, _ = e.Approve(common.PartyProvider, testNow)
	_, err := e.BeginRelease(testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Dispute("too late", testNow), common.ErrInvalidState)
}

func TestRefundOnlyFromDisputed(t *testing.T) {
	e := fundedEscrow()
	assert.ErrorIs(t, e.MarkRefunded(testNow), common.ErrInvalidState)
	require.NoError(t, e.Dispute("bad work", testNow))
	require.NoError(t, e.MarkRefunded(testNow))
	assert.True(t, e.IsTerminal())
}

func TestTransactionTerminalStatesAreFinal(t *testing.T) {
	tx := &Transaction{ID: 1, Status: common.TransactionStatusPending}
	require.NoError(t, tx.MarkSuccess("ref-1", testNow))
	assert.ErrorIs(t, tx.MarkFailed("boom", testNow), common.ErrAlreadyFinal)
	assert.ErrorIs(t, tx.MarkSuccess("ref-2", testNow), common.ErrAlreadyFinal)
	assert.Equal(t, "ref-1", tx.Reference)
}

func TestWithdrawalCancelOnlyWhilePending(t *testing.T) {
	w := &Withdrawal{Status: common.WithdrawalStatusPending}
	require.NoError(t, w.StartProcessing(9, "key", testNow))
	assert.ErrorIs(t, w.Cancel(), common.ErrInvalidState)
	require.NoError(t, w.Complete("tx"))
	assert.Equal(t, common.WithdrawalStatusCompleted, w.Status)
}
