package service

import (
	"context"
	"testing"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilestoneLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	contract := newContract(t, svc, 40)
	due := time.Now().UTC().Add(7 * 24 * time.Hour)

	_, err := svc.AddMilestone(ctx, contract.ID, providerID, "tiles", "", 5000, due)
	assert.ErrorIs(t, err, common.ErrNotAParty)

	_, err = svc.AddMilestone(ctx, contract.ID, requesterID, "tiles", "", 0, due)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	first, err := svc.AddMilestone(ctx, contract.ID, requesterID, "tiles", "north side", 5000, due)
	require.NoError(t, err)
	assert.Equal(t, common.MilestoneStatusPending, first.Status)
	second, err := svc.AddMilestone(ctx, contract.ID, requesterID, "gutter", "", 15000, due.Add(24*time.Hour))
	require.NoError(t, err)

	milestones, err := svc.ListMilestones(ctx, contract.ID)
	require.NoError(t, err)
	require.Len(t, milestones, 2)
	assert.Equal(t, first.ID, milestones[0].ID)

	_, err = svc.StartMilestone(ctx, first.ID, requesterID)
	assert.ErrorIs(t, err, common.ErrNotAParty)

	started, err := svc.StartMilestone(ctx, first.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, common.MilestoneStatusInProgress, started.Status)

	_, err = svc.StartMilestone(ctx, first.ID, providerID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	completed, err := svc.CompleteMilestone(ctx, first.ID, providerID, "all tiles replaced")
	require.NoError(t, err)
	assert.Equal(t, common.MilestoneStatusCompleted, completed.Status)
	assert.Equal(t, providerID, completed.CompletedBy)

	_, err = svc.DisputeMilestone(ctx, first.ID, requesterID, "tiles cracked")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = svc.DisputeMilestone(ctx, second.ID, outsiderID, "")
	assert.ErrorIs(t, err, common.ErrNotAParty)

	disputed, err := svc.DisputeMilestone(ctx, second.ID, requesterID, "wrong color")
	require.NoError(t, err)
	assert.Equal(t, common.MilestoneStatusDisputed, disputed.Status)
	assert.Equal(t, "wrong color", disputed.DisputeReason)
}

func TestAmendmentAppliedAfterBothApprovals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	contract := newContract(t, svc, 41)

	_, err := svc.ProposeAmendment(ctx, contract.ID, requesterID, AmendmentParams{Title: "nothing"})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = svc.ProposeAmendment(ctx, contract.ID, outsiderID, AmendmentParams{Title: "x", ProposedTerms: "y"})
	assert.Error(t, err)

	amendment, err := svc.ProposeAmendment(ctx, contract.ID, requesterID, AmendmentParams{
		Title:                 "bigger job",
		ProposedTerms:         "Replace all tiles",
		ProposedPaymentAmount: 30000,
	})
	require.NoError(t, err)
	assert.Equal(t, common.AmendmentStatusPending, amendment.Status)

	amendment, err = svc.ApproveAmendment(ctx, amendment.ID, requesterID)
	require.NoError(t, err)
	assert.Equal(t, common.AmendmentStatusPending, amendment.Status)

	_, err = svc.ApproveAmendment(ctx, amendment.ID, requesterID)
	assert.ErrorIs(t, err, common.ErrAlreadyApproved)

	amendment, err = svc.ApproveAmendment(ctx, amendment.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, common.AmendmentStatusApproved, amendment.Status)

	amended, err := svc.FindContract(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, "Replace all tiles", amended.Terms)
	assert.Equal(t, int64(30000), amended.PaymentAmount)
	assert.Equal(t, int64(2), amended.Version)

	// the escrow is sized from the amended amount
	_, err = svc.SignContract(ctx, contract.ID, requesterID, "")
	require.NoError(t, err)
	result, err := svc.SignContract(ctx, contract.ID, providerID, "")
	require.NoError(t, err)
	require.NotNil(t, result.Escrow)
	assert.Equal(t, int64(30000), result.Escrow.TotalAmount)
	assert.Equal(t, int64(1500), result.Escrow.PlatformFee)
}

func TestAmendmentOfActiveContract(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	contract, _ := activeContract(t, svc, 42)

	_, err := svc.ProposeAmendment(ctx, contract.ID, providerID, AmendmentParams{Title: "raise", ProposedPaymentAmount: 25000})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	newEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
	amendment, err := svc.ProposeAmendment(ctx, contract.ID, providerID, AmendmentParams{Title: "more time", ProposedEndDate: newEnd})
	require.NoError(t, err)

	rejected, err := svc.RejectAmendment(ctx, amendment.ID, requesterID, "deadline is fixed")
	require.NoError(t, err)
	assert.Equal(t, common.AmendmentStatusRejected, rejected.Status)
	assert.Equal(t, requesterID, rejected.RejectedBy)

	_, err = svc.ApproveAmendment(ctx, amendment.ID, providerID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	amendment, err = svc.ProposeAmendment(ctx, contract.ID, providerID, AmendmentParams{Title: "clause", ProposedSpecialClauses: "No work on Sundays"})
	require.NoError(t, err)
	_, err = svc.ApproveAmendment(ctx, amendment.ID, providerID)
	require.NoError(t, err)
	_, err = svc.ApproveAmendment(ctx, amendment.ID, requesterID)
	require.NoError(t, err)

	amended, err := svc.FindContract(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, "No work on Sundays", amended.SpecialClauses)
	assert.NotEqual(t, contract.ContractHash, amended.ContractHash)

	amendments, err := svc.ListAmendments(ctx, contract.ID)
	require.NoError(t, err)
	assert.Len(t, amendments, 2)
}
