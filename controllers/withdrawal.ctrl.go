package controllers

import (
	"net/http"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// WithdrawalController : withdrawal requests and their admin review
type WithdrawalController struct {
	svc *service.EscrowService
}

func NewWithdrawalController(svc *service.EscrowService) *WithdrawalController {
	return &WithdrawalController{svc: svc}
}

type RequestWithdrawalRequestBody struct {
	Amount             int64  `json:"amount" validate:"required,gt=0"`
	DestinationAddress string `json:"destination_address" validate:"required"`
}

type ProcessWithdrawalRequestBody struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// RequestWithdrawal godoc
// @Summary      Request a withdrawal
// @Description  Queues a withdrawal for admin review. Funds are reserved when it is approved.
// @Accept       json
// @Produce      json
// @Tags         Wallet
// @Param        withdrawal  body  RequestWithdrawalRequestBody  true  "Withdrawal"
// @Success      200  {object}  models.Withdrawal
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v2/withdrawals [post]
// @Security     OAuth2Password
func (controller *WithdrawalController) RequestWithdrawal(c echo.Context) error {
	var body RequestWithdrawalRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load withdrawal request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid withdrawal request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	withdrawal, err := controller.svc.RequestWithdrawal(c.Request().Context(), userID(c), body.Amount, body.DestinationAddress)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, withdrawal)
}

func (controller *WithdrawalController) ListWithdrawals(c echo.Context) error {
	withdrawals, err := controller.svc.ListWithdrawals(c.Request().Context(), userID(c), c.QueryParam("status"))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, withdrawals)
}

func (controller *WithdrawalController) GetWithdrawal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	withdrawal, err := controller.svc.FindWithdrawal(c.Request().Context(), id)
	if err != nil {
		return responses.Error(c, err)
	}
	// someone else's withdrawal is reported as missing
	if withdrawal.UserID != userID(c) {
		return c.JSON(http.StatusNotFound, responses.NotFoundError)
	}
	return c.JSON(http.StatusOK, withdrawal)
}

func (controller *WithdrawalController) CancelWithdrawal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	withdrawal, err := controller.svc.CancelWithdrawal(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, withdrawal)
}

// ProcessWithdrawal godoc
// @Summary      Approve or reject a withdrawal
// @Description  Approval reserves the funds and submits the payment to the settlement network
// @Accept       json
// @Produce      json
// @Tags         Admin
// @Param        id        path  int                           true  "Withdrawal id"
// @Param        decision  body  ProcessWithdrawalRequestBody  true  "Decision"
// @Success      200  {object}  models.Withdrawal
// @Success      202  {object}  responses.ErrorResponse
// @Router       /v2/admin/withdrawals/{id}/process [post]
// @Security     AdminToken
func (controller *WithdrawalController) ProcessWithdrawal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ProcessWithdrawalRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if !body.Approve && body.Reason == "" {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	withdrawal, err := controller.svc.ProcessWithdrawal(c.Request().Context(), id, adminID(c), body.Approve, body.Reason)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, withdrawal)
}

func (controller *WithdrawalController) ListAllWithdrawals(c echo.Context) error {
	withdrawals, err := controller.svc.ListWithdrawals(c.Request().Context(), 0, c.QueryParam("status"))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, withdrawals)
}
