package integration_tests

import (
	"fmt"
	"log"
	"net/http"
	"testing"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/homechain/escrowhub/settlement"
	"github.com/homechain/escrowhub/settlement/settlementtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type EscrowFlowTestSuite struct {
	TestSuite
	network *settlementtest.Network
	jobID   int64
}

func (suite *EscrowFlowTestSuite) SetupTest() {
	suite.network = settlementtest.NewNetwork()
	svc, err := EscrowHubTestServiceInit(suite.T().TempDir(), suite.network)
	if err != nil {
		log.Fatalf("Error initializing test service: %v", err)
	}
	suite.initEcho(svc)
	suite.jobID++
}

func (suite *EscrowFlowTestSuite) TearDownTest() {
	suite.service.DB.Close()
}

func (suite *EscrowFlowTestSuite) createContract(amount int64) *models.Contract {
	contract := &models.Contract{}
	rec := suite.do(http.MethodPost, "/v2/contracts", requesterID, map[string]interface{}{
		"job_id":            suite.jobID,
		"provider_id":       providerID,
		"requester_address": "requester-account",
		"provider_address":  "provider-account",
		"title":             "Paint the fence",
		"terms":             "Two coats, white",
		"payment_amount":    amount,
		"start_date":        "2030-05-01",
		"end_date":          "2030-05-15",
	}, contract)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	return contract
}

// activate signs as both parties and returns the escrow of the contract.
func (suite *EscrowFlowTestSuite) activate(contract *models.Contract) *models.Escrow {
	path := fmt.Sprintf("/v2/contracts/%d/sign", contract.ID)
	first := &service.SignResult{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, path, requesterID, nil, first).Code)
	assert.False(suite.T(), first.Activated)

	second := &service.SignResult{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, path, providerID, nil, second).Code)
	suite.Require().True(second.Activated)
	suite.Require().NotNil(second.Escrow)
	return second.Escrow
}

func (suite *EscrowFlowTestSuite) TestContractToRelease() {
	contract := suite.createContract(20000)
	escrow := suite.activate(contract)
	assert.Equal(suite.T(), int64(1000), escrow.PlatformFee)
	assert.Equal(suite.T(), int64(19000), escrow.ProviderAmount)

	fetched := &models.Escrow{}
	rec := suite.do(http.MethodGet, fmt.Sprintf("/v2/contracts/%d/escrow", contract.ID), providerID, nil, fetched)
	suite.Require().Equal(http.StatusOK, rec.Code)
	assert.Equal(suite.T(), escrow.ID, fetched.ID)

	funded := &models.Escrow{}
	rec = suite.do(http.MethodPost, fmt.Sprintf("/v2/escrows/%d/fund", escrow.ID), requesterID, map[string]int64{"amount": 20000}, funded)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), common.EscrowStatusFunded, funded.Status)

	approvePath := fmt.Sprintf("/v2/escrows/%d/approve", escrow.ID)
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, approvePath, requesterID, nil, nil).Code)
	rec = suite.do(http.MethodPost, approvePath, requesterID, nil, nil)
	assert.Equal(suite.T(), http.StatusConflict, rec.Code)

	released := &models.Escrow{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, approvePath, providerID, nil, released).Code)
	assert.Equal(suite.T(), common.EscrowStatusCompleted, released.Status)
	assert.Equal(suite.T(), 1, suite.network.Calls(settlement.OpReleasePayment))

	wallet := &models.Wallet{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/v2/wallet", providerID, nil, wallet).Code)
	assert.Equal(suite.T(), int64(19000), wallet.AvailableBalance)
	assert.Equal(suite.T(), int64(19000), wallet.TotalEarned)

	stats := &service.PlatformStats{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/v2/admin/stats", -1, nil, stats).Code)
	assert.Equal(suite.T(), int64(1000), stats.PlatformFees)

	monthly := []service.MonthlyStat{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/v2/admin/stats/monthly", -1, nil, &monthly).Code)
	suite.Require().Len(monthly, 1)
	assert.Equal(suite.T(), int64(20000), monthly[0].Volume)
	assert.Equal(suite.T(), int64(1000), monthly[0].Fees)
}

func (suite *EscrowFlowTestSuite) TestOnlyPartiesSeeTheContract() {
	contract := suite.createContract(20000)
	path := fmt.Sprintf("/v2/contracts/%d", contract.ID)

	assert.Equal(suite.T(), http.StatusOK, suite.do(http.MethodGet, path, providerID, nil, nil).Code)
	assert.Equal(suite.T(), http.StatusForbidden, suite.do(http.MethodGet, path, outsiderID, nil, nil).Code)
	assert.Equal(suite.T(), http.StatusUnauthorized, suite.do(http.MethodGet, path, 0, nil, nil).Code)
	assert.Equal(suite.T(), http.StatusNotFound, suite.do(http.MethodGet, "/v2/contracts/9999", providerID, nil, nil).Code)
}

func (suite *EscrowFlowTestSuite) TestInvalidContractBody() {
	rec := suite.do(http.MethodPost, "/v2/contracts", requesterID, map[string]interface{}{
		"job_id":         suite.jobID,
		"provider_id":    providerID,
		"payment_amount": -5,
	}, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *EscrowFlowTestSuite) TestLostFundingResponseIsReconciled() {
	escrow := suite.activate(suite.createContract(20000))

	suite.network.ApplyThenFail(settlement.OpFundEscrow, common.ErrNetworkTimeout)
	rec := suite.do(http.MethodPost, fmt.Sprintf("/v2/escrows/%d/fund", escrow.ID), requesterID, map[string]int64{"amount": 20000}, nil)
	suite.Require().Equal(http.StatusAccepted, rec.Code)
	assert.JSONEq(suite.T(), mustJSON(responses.ProcessingResponse), rec.Body.String())

	result := &service.ReconcileResult{}
	rec = suite.do(http.MethodPost, fmt.Sprintf("/v2/admin/escrows/%d/reconcile", escrow.ID), -1, nil, result)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), service.ActionFunded, result.Action)
	assert.Equal(suite.T(), common.EscrowStatusFunded, result.After)
	assert.Equal(suite.T(), 1, suite.network.Calls(settlement.OpFundEscrow))
}

func (suite *EscrowFlowTestSuite) TestWithdrawalReview() {
	deposit := map[string]interface{}{"user_id": providerID, "amount": 5000, "reference": "bank-1"}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, "/v2/admin/deposits", -1, deposit, nil).Code)
	assert.Equal(suite.T(), http.StatusUnauthorized, suite.do(http.MethodPost, "/v2/admin/deposits", providerID, deposit, nil).Code)

	rec := suite.do(http.MethodPost, "/v2/withdrawals", providerID, map[string]interface{}{"amount": 50, "destination_address": "bank"}, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	withdrawal := &models.Withdrawal{}
	rec = suite.do(http.MethodPost, "/v2/withdrawals", providerID, map[string]interface{}{"amount": 3000, "destination_address": "bank"}, withdrawal)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), common.WithdrawalStatusPending, withdrawal.Status)

	assert.Equal(suite.T(), http.StatusNotFound, suite.do(http.MethodGet, fmt.Sprintf("/v2/withdrawals/%d", withdrawal.ID), requesterID, nil, nil).Code)

	processed := &models.Withdrawal{}
	rec = suite.do(http.MethodPost, fmt.Sprintf("/v2/admin/withdrawals/%d/process", withdrawal.ID), -1, map[string]interface{}{"approve": true}, processed)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), common.WithdrawalStatusCompleted, processed.Status)

	wallet := &models.Wallet{}
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/v2/wallet", providerID, nil, wallet).Code)
	assert.Equal(suite.T(), int64(2000), wallet.AvailableBalance)
	assert.Equal(suite.T(), int64(0), wallet.PendingBalance)
	assert.Equal(suite.T(), int64(3000), wallet.TotalWithdrawn)

	transactions := []models.Transaction{}
	rec = suite.do(http.MethodGet, "/v2/transactions?type="+common.TransactionTypeWithdrawal, providerID, nil, &transactions)
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().Len(transactions, 1)
	assert.Equal(suite.T(), common.TransactionStatusSuccess, transactions[0].Status)
}

func (suite *EscrowFlowTestSuite) TestFeeQuote() {
	quote := &service.FeeQuote{}
	rec := suite.do(http.MethodGet, "/v2/fees/calculate?amount=20000", 0, nil, quote)
	suite.Require().Equal(http.StatusOK, rec.Code)
	assert.Equal(suite.T(), int64(1000), quote.Fee)
	assert.Equal(suite.T(), int64(19000), quote.ProviderAmount)
	assert.Equal(suite.T(), int64(21000), quote.Total)

	assert.Equal(suite.T(), http.StatusBadRequest, suite.do(http.MethodGet, "/v2/fees/calculate?amount=abc", 0, nil, nil).Code)
	assert.Equal(suite.T(), http.StatusOK, suite.do(http.MethodGet, "/health", 0, nil, nil).Code)
}

func TestEscrowFlowTestSuite(t *testing.T) {
	suite.Run(t, new(EscrowFlowTestSuite))
}
