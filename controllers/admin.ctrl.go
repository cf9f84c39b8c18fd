package controllers

import (
	"net/http"
	"time"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// AdminController : operator endpoints, guarded by the admin token
type AdminController struct {
	svc *service.EscrowService
}

func NewAdminController(svc *service.EscrowService) *AdminController {
	return &AdminController{svc: svc}
}

type DepositRequestBody struct {
	UserID    int64  `json:"user_id" validate:"required,gt=0"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required"`
}

func (controller *AdminController) Stats(c echo.Context) error {
	stats, err := controller.svc.PlatformStats(c.Request().Context())
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// MonthlyStats godoc
// @Summary      Monthly platform statistics
// @Description  Successful volume, fees and ledger row count per month, last twelve months first
// @Produce      json
// @Tags         Admin
// @Success      200  {object}  []service.MonthlyStat
// @Router       /v2/admin/stats/monthly [get]
func (controller *AdminController) MonthlyStats(c echo.Context) error {
	stats, err := controller.svc.MonthlyStats(c.Request().Context())
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ReconcileAll godoc
// @Summary      Reconcile with the settlement network
// @Description  Runs one reconciliation pass over escrows, withdrawals and transactions pending longer than the configured threshold
// @Produce      json
// @Tags         Admin
// @Success      200  {object}  service.ReconcileSummary
// @Router       /v2/admin/reconcile [post]
// @Security     AdminToken
func (controller *AdminController) ReconcileAll(c echo.Context) error {
	before := time.Now().Add(-controller.svc.Config.ReconcilePendingAfter)
	summary, err := controller.svc.ReconcileAll(c.Request().Context(), before)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (controller *AdminController) ReconcileEscrow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	result, err := controller.svc.ReconcileEscrow(c.Request().Context(), id)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (controller *AdminController) ReconcileWithdrawal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	withdrawal, action, err := controller.svc.ReconcileWithdrawal(c.Request().Context(), id)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawal": withdrawal, "action": action})
}

// Deposit credits a wallet after an off-platform top-up was confirmed.
// The reference makes the call idempotent.
func (controller *AdminController) Deposit(c echo.Context) error {
	var body DepositRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	transaction, err := controller.svc.Deposit(c.Request().Context(), body.UserID, body.Amount, body.Reference)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, transaction)
}

// ProvisionEscrow retries the network side creation of an escrow.
func (controller *AdminController) ProvisionEscrow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	escrow, err := controller.svc.ProvisionEscrow(c.Request().Context(), id)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}
