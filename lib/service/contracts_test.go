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

func TestCreateContractValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateContract(ctx, CreateContractParams{JobID: 1, RequesterID: 1, ProviderID: 1, Terms: "x", PaymentAmount: 100})
	assert.ErrorIs(t, err, common.ErrNotAParty)

	_, err = svc.CreateContract(ctx, CreateContractParams{JobID: 1, RequesterID: 1, ProviderID: 2, Terms: "x"})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = svc.CreateContract(ctx, CreateContractParams{JobID: 1, RequesterID: 1, ProviderID: 2, Terms: "x", PaymentAmount: 100, PaymentSchedule: "YEARLY"})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	contract := newContract(t, svc, 1)
	assert.Equal(t, common.ContractStatusPending, contract.Status)
	assert.Equal(t, common.PaymentScheduleFull, contract.PaymentSchedule)
	assert.Equal(t, int64(1), contract.Version)

	_, err = svc.CreateContract(ctx, CreateContractParams{JobID: 1, RequesterID: 1, ProviderID: 2, Terms: "x", PaymentAmount: 5000})
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestDraftContractMustBePublished(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	draft, err := svc.CreateContract(ctx, CreateContractParams{
		JobID: 7, RequesterID: requesterID, ProviderID: providerID, Terms: "draft terms", PaymentAmount: 5000, Draft: true,
	})
	require.NoError(t, err)
	assert.Equal(t, common.ContractStatusDraft, draft.Status)

	_, err = svc.SignContract(ctx, draft.ID, requesterID, "")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = svc.PublishContract(ctx, draft.ID, providerID)
	assert.ErrorIs(t, err, common.ErrNotAParty)

	published, err := svc.PublishContract(ctx, draft.ID, requesterID)
	require.NoError(t, err)
	assert.Equal(t, common.ContractStatusPending, published.Status)
}

func TestSignContractActivatesAndProvisions(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	contract := newContract(t, svc, 10)

	_, err := svc.SignContract(ctx, contract.ID, outsiderID, "")
	assert.ErrorIs(t, err, common.ErrNotAParty)

	first, err := svc.SignContract(ctx, contract.ID, requesterID, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, first.Activated)
	assert.Nil(t, first.Escrow)
	assert.Equal(t, common.ContractStatusPending, first.Contract.Status)

	_, err = svc.SignContract(ctx, contract.ID, requesterID, "10.0.0.1")
	assert.ErrorIs(t, err, common.ErrAlreadySigned)

	second, err := svc.SignContract(ctx, contract.ID, providerID, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, second.Activated)
	assert.Equal(t, common.ContractStatusActive, second.Contract.Status)
	assert.NotEmpty(t, second.Contract.ContractHash)

	escrow := second.Escrow
	require.NotNil(t, escrow)
	assert.Equal(t, common.EscrowStatusPending, escrow.Status)
	assert.Equal(t, contractAmount, escrow.TotalAmount)
	assert.Equal(t, expectedFee, escrow.PlatformFee)
	assert.Equal(t, contractAmount-expectedFee, escrow.ProviderAmount)
	assert.Equal(t, escrow.ExpectedNetworkID(), escrow.NetworkEscrowID)
	assert.Equal(t, common.SubmissionSettled, escrow.ProvisionState)
	assert.True(t, network.HasEscrow(escrow.NetworkEscrowID))
	assert.Equal(t, 1, network.Calls(settlement.OpCreateEscrow))

	created := transactionsOf(t, svc, escrow.ID, common.TransactionTypeEscrowCreate)
	require.Len(t, created, 1)
	assert.Equal(t, common.TransactionStatusSuccess, created[0].Status)

	_, err = svc.SignContract(ctx, contract.ID, providerID, "")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	verification, err := svc.VerifyContract(ctx, contract.ID, providerID)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestConcurrentSignaturesCreateOneEscrow(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	contract := newContract(t, svc, 11)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated int
	)
	for _, userID := range []int64{requesterID, providerID} {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			result, err := svc.SignContract(ctx, contract.ID, userID, "")
			assert.NoError(t, err)
			if err == nil && result.Activated {
				mu.Lock()
				activated++
				mu.Unlock()
			}
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, 1, activated)
	count, err := svc.DB.NewSelect().Model((*models.Escrow)(nil)).Where("contract_id = ?", contract.ID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, network.Calls(settlement.OpCreateEscrow))
}

func TestProvisionTimeoutIsReconciled(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	contract := newContract(t, svc, 12)

	// the network creates the escrow but the response is lost
	network.ApplyThenFail(settlement.OpCreateEscrow, common.ErrNetworkTimeout)

	_, err := svc.SignContract(ctx, contract.ID, requesterID, "")
	require.NoError(t, err)
	result, err := svc.SignContract(ctx, contract.ID, providerID, "")
	require.NoError(t, err)
	require.True(t, result.Activated)

	escrow, err := svc.FindEscrowByContract(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, common.SubmissionUnknown, escrow.ProvisionState)
	assert.Empty(t, escrow.NetworkEscrowID)

	_, err = svc.FundEscrow(ctx, escrow.ID, requesterID, escrow.TotalAmount)
	assert.ErrorIs(t, err, common.ErrEscrowNotProvisioned)

	reconciled, err := svc.ReconcileEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionProvisioned, reconciled.Action)
	assert.Equal(t, 1, network.Calls(settlement.OpCreateEscrow))

	escrow, err = svc.FindEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.ExpectedNetworkID(), escrow.NetworkEscrowID)
	assert.Equal(t, common.SubmissionSettled, escrow.ProvisionState)
}

func TestProvisionNeverArrivedIsResubmitted(t *testing.T) {
	svc, network := newTestService(t)
	ctx := context.Background()
	contract := newContract(t, svc, 13)

	network.FailNext(settlement.OpCreateEscrow, common.ErrNetworkUnavailable)
	_, err := svc.SignContract(ctx, contract.ID, requesterID, "")
	require.NoError(t, err)
	_, err = svc.SignContract(ctx, contract.ID, providerID, "")
	require.NoError(t, err)

	escrow, err := svc.FindEscrowByContract(ctx, contract.ID)
	require.NoError(t, err)

	reconciled, err := svc.ReconcileEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionProvisionResubmit, reconciled.Action)
	assert.Equal(t, 2, network.Calls(settlement.OpCreateEscrow))

	escrow, err = svc.FindEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.True(t, escrow.IsProvisioned())
	assert.Equal(t, 2, escrow.ProvisionAttempts)
}

func TestRaiseDisputeFreezesEscrow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	contract, escrow := fundedEscrow(t, svc, 14)

	_, err := svc.RaiseDispute(ctx, contract.ID, outsiderID, "not mine")
	assert.ErrorIs(t, err, common.ErrNotAParty)

	disputed, err := svc.RaiseDispute(ctx, contract.ID, providerID, "requester changed the scope")
	require.NoError(t, err)
	assert.Equal(t, common.ContractStatusDisputed, disputed.Status)

	escrow, err = svc.FindEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, common.EscrowStatusDisputed, escrow.Status)

	_, err = svc.ApproveEscrow(ctx, escrow.ID, requesterID)
	assert.ErrorIs(t, err, common.ErrFrozen)

	refunds := transactionsOf(t, svc, escrow.ID, common.TransactionTypeEscrowRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, common.TransactionStatusPending, refunds[0].Status)
}

func TestTerminateLeavesEscrowUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	contract, escrow := fundedEscrow(t, svc, 15)

	terminated, err := svc.TerminateContract(ctx, contract.ID, requesterID, "provider unavailable")
	require.NoError(t, err)
	assert.Equal(t, common.ContractStatusTerminated, terminated.Status)

	escrow, err = svc.FindEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, common.EscrowStatusFunded, escrow.Status)

	_, err = svc.ApproveEscrow(ctx, escrow.ID, requesterID)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}
