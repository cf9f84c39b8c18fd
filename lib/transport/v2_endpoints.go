package transport

import (
	"github.com/homechain/escrowhub/controllers"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// RegisterV2Endpoints mounts the API. secured carries the JWT middleware,
// securedWithStrictRateLimit additionally limits the calls that move money.
// Admin routes only exist when an admin token is configured.
func RegisterV2Endpoints(svc *service.EscrowService, e *echo.Echo, secured *echo.Group, securedWithStrictRateLimit *echo.Group, adminMw echo.MiddlewareFunc, cacheMw echo.MiddlewareFunc) {
	e.GET("/health", controllers.NewHealthController(svc.DB).Check)

	feeCtrl := controllers.NewFeeController(svc)
	if cacheMw != nil {
		e.GET("/v2/fees/current", feeCtrl.CurrentFeeSchedule, cacheMw)
	} else {
		e.GET("/v2/fees/current", feeCtrl.CurrentFeeSchedule)
	}
	e.GET("/v2/fees/calculate", feeCtrl.CalculateFee)

	contractCtrl := controllers.NewContractController(svc)
	secured.POST("/v2/contracts", contractCtrl.CreateContract)
	secured.GET("/v2/contracts", contractCtrl.ListContracts)
	secured.GET("/v2/contracts/:id", contractCtrl.GetContract)
	secured.POST("/v2/contracts/:id/sign", contractCtrl.SignContract)
	secured.POST("/v2/contracts/:id/publish", contractCtrl.PublishContract)
	secured.POST("/v2/contracts/:id/complete", contractCtrl.CompleteContract)
	secured.POST("/v2/contracts/:id/terminate", contractCtrl.TerminateContract)
	secured.POST("/v2/contracts/:id/dispute", contractCtrl.RaiseDispute)
	secured.GET("/v2/contracts/:id/verify", contractCtrl.VerifyContract)
	secured.GET("/v2/contracts/:id/summary", contractCtrl.SummarizeContract)

	milestoneCtrl := controllers.NewMilestoneController(svc)
	secured.GET("/v2/contracts/:id/milestones", milestoneCtrl.ListMilestones)
	secured.POST("/v2/contracts/:id/milestones", milestoneCtrl.AddMilestone)
	secured.POST("/v2/milestones/:milestone_id/start", milestoneCtrl.StartMilestone)
	secured.POST("/v2/milestones/:milestone_id/complete", milestoneCtrl.CompleteMilestone)
	secured.POST("/v2/milestones/:milestone_id/dispute", milestoneCtrl.DisputeMilestone)
	secured.GET("/v2/contracts/:id/amendments", milestoneCtrl.ListAmendments)
	secured.POST("/v2/contracts/:id/amendments", milestoneCtrl.ProposeAmendment)
	secured.POST("/v2/amendments/:amendment_id/approve", milestoneCtrl.ApproveAmendment)
	secured.POST("/v2/amendments/:amendment_id/reject", milestoneCtrl.RejectAmendment)

	escrowCtrl := controllers.NewEscrowController(svc)
	secured.GET("/v2/contracts/:id/escrow", escrowCtrl.EscrowForContract)
	secured.GET("/v2/escrows/:id", escrowCtrl.GetEscrow)
	secured.GET("/v2/escrows/:id/status", escrowCtrl.EscrowStatus)
	secured.POST("/v2/escrows/:id/dispute", escrowCtrl.DisputeEscrow)
	securedWithStrictRateLimit.POST("/v2/escrows/:id/fund", escrowCtrl.FundEscrow)
	securedWithStrictRateLimit.POST("/v2/escrows/:id/approve", escrowCtrl.ApproveEscrow)

	walletCtrl := controllers.NewWalletController(svc)
	secured.GET("/v2/wallet", walletCtrl.Wallet)
	securedWithStrictRateLimit.POST("/v2/wallet/sync", walletCtrl.SyncWallet)
	secured.GET("/v2/transactions", walletCtrl.Transactions)
	secured.GET("/v2/transactions/:id", walletCtrl.Transaction)

	withdrawalCtrl := controllers.NewWithdrawalController(svc)
	securedWithStrictRateLimit.POST("/v2/withdrawals", withdrawalCtrl.RequestWithdrawal)
	secured.GET("/v2/withdrawals", withdrawalCtrl.ListWithdrawals)
	secured.GET("/v2/withdrawals/:id", withdrawalCtrl.GetWithdrawal)
	secured.POST("/v2/withdrawals/:id/cancel", withdrawalCtrl.CancelWithdrawal)

	if svc.Config.AdminToken == "" {
		return
	}
	adminCtrl := controllers.NewAdminController(svc)
	admin := e.Group("/v2/admin", adminMw)
	admin.GET("/stats", adminCtrl.Stats)
	admin.GET("/stats/monthly", adminCtrl.MonthlyStats)
	admin.POST("/reconcile", adminCtrl.ReconcileAll)
	admin.POST("/escrows/:id/reconcile", adminCtrl.ReconcileEscrow)
	admin.POST("/escrows/:id/provision", adminCtrl.ProvisionEscrow)
	admin.POST("/withdrawals/:id/reconcile", adminCtrl.ReconcileWithdrawal)
	admin.POST("/deposits", adminCtrl.Deposit)
	admin.GET("/withdrawals", withdrawalCtrl.ListAllWithdrawals)
	admin.POST("/withdrawals/:id/process", withdrawalCtrl.ProcessWithdrawal)
	admin.GET("/fees", feeCtrl.ListFeeSchedules)
	admin.POST("/fees", feeCtrl.CreateFeeSchedule)
}
