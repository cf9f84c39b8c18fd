package models

import (
	"testing"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var testNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func pendingContract() *Contract {
	return &Contract{
		ID:               7,
		JobID:            42,
		RequesterID:      1,
		ProviderID:       2,
		RequesterAddress: "GREQUESTER",
		ProviderAddress:  "GPROVIDER",
		Terms:            "paint the fence",
		PaymentAmount:    15000,
		PaymentSchedule:  common.PaymentScheduleFull,
		StartDate:        time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		EndDate:          bun.NullTime{Time: time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)},
		Status:           common.ContractStatusPending,
		Version:          1,
	}
}

func TestSignFirstPartyKeepsContractPending(t *testing.T) {
	c := pendingContract()
	activated, err := c.Sign(1, "10.0.0.1", testNow)
	require.NoError(t, err)
	assert.False(t, activated)
	assert.Equal(t, common.ContractStatusPending, c.Status)
	assert.True(t, c.RequesterSigned)
	assert.Equal(t, "10.0.0.1", c.RequesterSignatureIP)
	assert.Empty(t, c.ContractHash)
}

func TestSignSecondPartyActivates(t *testing.T) {
	c := pendingContract()
	_, err := c.Sign(2, "", testNow)
	require.NoError(t, err)
	activated, err := c.Sign(1, "", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, activated)
	assert.Equal(t, common.ContractStatusActive, c.Status)
	assert.Equal(t, testNow.Add(time.Minute), c.ActivatedAt.Time)
	assert.Len(t, c.ContractHash, 64)
}

func TestSignTwiceFails(t *testing.T) {
	c := pendingContract()
	_, err := c.Sign(1, "", testNow)
	require.NoError(t, err)
	_, err = c.Sign(1, "", testNow)
	assert.ErrorIs(t, err, common.ErrAlreadySigned)
}

func TestSignByStrangerFails(t *testing.T) {
	c := pendingContract()
	_, err := c.Sign(99, "", testNow)
	assert.ErrorIs(t, err, common.ErrNotAParty)
}

func TestSignOutsidePendingFails(t *testing.T) {
	c := pendingContract()
	c.Status = common.ContractStatusDraft
	_, err := c.Sign(1, "", testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestContractHashRoundTrip(t *testing.T) {
	c := pendingContract()
	_, _ = c.Sign(1, "", testNow)
	_, _ = c.Sign(2, "", testNow)

	computed, valid := c.VerifyHash()
	assert.True(t, valid)
	assert.Equal(t, c.ContractHash, computed)

	c.Terms = "paint the fence twice"
	_, valid = c.VerifyHash()
	assert.False(t, valid)
}

func TestContractHashIsDeterministic(t *testing.T) {
	a, b := pendingContract(), pendingContract()
	b.ID = 999
	b.Title = "not part of the hash"
	assert.Equal(t, a.ComputeHash(), b.ComputeHash())

	b.Version = 2
	assert.NotEqual(t, a.ComputeHash(), b.ComputeHash())
}

func TestTerminateAllowedFromPendingAndActive(t *testing.T) {
	c := pendingContract()
	require.NoError(t, c.Terminate("changed plans", testNow))
	assert.Equal(t, common.ContractStatusTerminated, c.Status)
	assert.Equal(t, "changed plans", c.TerminationReason)

	assert.ErrorIs(t, c.Terminate("again", testNow), common.ErrInvalidState)
}

func TestCompleteRequiresActive(t *testing.T) {
	c := pendingContract()
	assert.ErrorIs(t, c.Complete(testNow), common.ErrInvalidState)
	c.Status = common.ContractStatusActive
	require.NoError(t, c.Complete(testNow))
	assert.Equal(t, common.ContractStatusCompleted, c.Status)
}

func TestRaiseDisputeOnlyFromActive(t *testing.T) {
	c := pendingContract()
	assert.ErrorIs(t, c.RaiseDispute("late", testNow), common.ErrInvalidState)
	c.Status = common.ContractStatusActive
	require.NoError(t, c.RaiseDispute("late", testNow))
	assert.Equal(t, common.ContractStatusDisputed, c.Status)
	assert.ErrorIs(t, c.Complete(testNow), common.ErrInvalidState)
}

func TestPublishDraft(t *testing.T) {
	c := pendingContract()
	c.Status = common.ContractStatusDraft
	require.NoError(t, c.Publish(testNow))
	assert.Equal(t, common.ContractStatusPending, c.Status)
	assert.ErrorIs(t, c.Publish(testNow), common.ErrInvalidState)
}

func TestApplyAmendmentBumpsVersionAndRehashes(t *testing.T) {
	c := pendingContract()
	_, _ = c.Sign(1, "", testNow)
	_, _ = c.Sign(2, "", testNow)
	oldHash := c.ContractHash

	a := &Amendment{Status: common.AmendmentStatusPending, ProposedTerms: "paint and seal the fence"}
	_, err := a.Approve(common.PartyRequester, testNow)
	require.NoError(t, err)
	approved, err := a.Approve(common.PartyProvider, testNow)
	require.NoError(t, err)
	require.True(t, approved)

	require.NoError(t, c.ApplyAmendment(a, testNow))
	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, "paint and seal the fence", c.Terms)
	assert.NotEqual(t, oldHash, c.ContractHash)
	_, valid := c.VerifyHash()
	assert.True(t, valid)
}

func TestApplyAmendmentCannotChangeAmountOfActiveContract(t *testing.T) {
	c := pendingContract()
	c.Status = common.ContractStatusActive
	a := &Amendment{Status: common.AmendmentStatusApproved, ProposedPaymentAmount: 20000}
	assert.ErrorIs(t, c.ApplyAmendment(a, testNow), common.ErrInvalidState)
	assert.Equal(t, int64(1), c.Version)
}

func TestAmendmentRejectIsFinal(t *testing.T) {
	a := &Amendment{Status: common.AmendmentStatusPending}
	require.NoError(t, a.Reject(2, "no", testNow))
	_, err := a.Approve(common.PartyRequester, testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestMilestoneCompleteTwiceFails(t *testing.T) {
	m := &Milestone{Status: common.MilestoneStatusPending}
	require.NoError(t, m.Start(testNow))
	require.NoError(t, m.Complete(2, "done", testNow))
	assert.Equal(t, int64(2), m.CompletedBy)
	assert.ErrorIs(t, m.Complete(2, "done", testNow), common.ErrInvalidState)
}
