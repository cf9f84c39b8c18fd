package controllers

import (
	"net/http"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// EscrowController : escrow funding, approval and status
type EscrowController struct {
	svc *service.EscrowService
}

func NewEscrowController(svc *service.EscrowService) *EscrowController {
	return &EscrowController{svc: svc}
}

type FundEscrowRequestBody struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func (controller *EscrowController) GetEscrow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	escrow, err := controller.svc.FindEscrowForParty(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}

// FundEscrow godoc
// @Summary      Fund an escrow
// @Description  The requester deposits the full contract amount. An unknown network outcome answers 202 and is settled by reconciliation.
// @Accept       json
// @Produce      json
// @Tags         Escrow
// @Param        id      path  int                    true  "Escrow id"
// @Param        amount  body  FundEscrowRequestBody  true  "Amount in minor units"
// @Success      200  {object}  models.Escrow
// @Success      202  {object}  responses.ErrorResponse
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v2/escrows/{id}/fund [post]
// @Security     OAuth2Password
func (controller *EscrowController) FundEscrow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body FundEscrowRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load fund request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	escrow, err := controller.svc.FundEscrow(c.Request().Context(), id, userID(c), body.Amount)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}

// ApproveEscrow godoc
// @Summary      Approve the release of an escrow
// @Description  The second approval releases the payment to the provider
// @Produce      json
// @Tags         Escrow
// @Param        id  path  int  true  "Escrow id"
// @Success      200  {object}  models.Escrow
// @Success      202  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /v2/escrows/{id}/approve [post]
// @Security     OAuth2Password
func (controller *EscrowController) ApproveEscrow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	escrow, err := controller.svc.ApproveEscrow(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}

func (controller *EscrowController) DisputeEscrow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ReasonRequestBody
	if err := c.Bind(&body); err != nil || body.Reason == "" {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	escrow, err := controller.svc.DisputeEscrow(c.Request().Context(), id, userID(c), body.Reason)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}

func (controller *EscrowController) EscrowStatus(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	view, err := controller.svc.EscrowStatus(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// EscrowForContract answers the escrow of a contract the caller is a party to.
func (controller *EscrowController) EscrowForContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	ctx := c.Request().Context()
	if _, err := controller.svc.FindContractForParty(ctx, id, userID(c)); err != nil {
		return responses.Error(c, err)
	}
	escrow, err := controller.svc.FindEscrowByContract(ctx, id)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}
