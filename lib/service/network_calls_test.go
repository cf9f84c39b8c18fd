package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/settlement"
	"github.com/homechain/escrowhub/settlement/mock_settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each submitting operation reaches the network exactly once, however often
// the parties repeat their calls.
func TestSubmissionsReachNetworkOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	network := mock_settlement.NewMockClient(ctrl)
	svc.Network = network
	ctx := context.Background()

	contract := newContract(t, svc, 90)
	networkID := fmt.Sprintf("escrow_90_%d", contract.ID)

	network.EXPECT().CreateEscrow(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *settlement.CreateEscrowRequest) (*settlement.CreateEscrowResponse, error) {
			assert.Equal(t, networkID, req.EscrowID)
			assert.Equal(t, contractAmount, req.Amount)
			assert.Equal(t, "requester-account", req.FunderAddress)
			assert.Equal(t, "provider-account", req.BeneficiaryAddress)
			assert.NotEmpty(t, req.IdempotencyKey)
			return &settlement.CreateEscrowResponse{EscrowID: req.EscrowID, TxRef: "tx-create"}, nil
		}).Times(1)

	_, err := svc.SignContract(ctx, contract.ID, requesterID, "10.0.0.1")
	require.NoError(t, err)
	result, err := svc.SignContract(ctx, contract.ID, providerID, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, result.Activated)
	assert.Equal(t, networkID, result.Escrow.NetworkEscrowID)
	_, err = svc.SignContract(ctx, contract.ID, providerID, "10.0.0.2")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	network.EXPECT().FundEscrow(gomock.Any(), gomock.Any()).
		Return(&settlement.TxResponse{TxRef: "tx-fund"}, nil).Times(1)
	escrow, err := svc.FundEscrow(ctx, result.Escrow.ID, requesterID, contractAmount)
	require.NoError(t, err)
	assert.Equal(t, "tx-fund", escrow.FundTxRef)
	_, err = svc.FundEscrow(ctx, result.Escrow.ID, requesterID, contractAmount)
	assert.Error(t, err)

	network.EXPECT().ReleasePayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *settlement.ReleasePaymentRequest) (*settlement.TxResponse, error) {
			assert.Equal(t, networkID, req.EscrowID)
			assert.Equal(t, "platform-account", req.Approver)
			return &settlement.TxResponse{TxRef: "tx-release"}, nil
		}).Times(1)
	_, err = svc.ApproveEscrow(ctx, escrow.ID, requesterID)
	require.NoError(t, err)
	escrow, err = svc.ApproveEscrow(ctx, escrow.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, common.EscrowStatusCompleted, escrow.Status)
	_, err = svc.ApproveEscrow(ctx, escrow.ID, providerID)
	assert.Error(t, err)
}
