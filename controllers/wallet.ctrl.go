package controllers

import (
	"net/http"
	"strconv"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// WalletController : wallet balances and the transaction history
type WalletController struct {
	svc *service.EscrowService
}

func NewWalletController(svc *service.EscrowService) *WalletController {
	return &WalletController{svc: svc}
}

type SyncWalletRequestBody struct {
	Address string `json:"address" validate:"required"`
}

// Wallet godoc
// @Summary      Retrieve the wallet
// @Description  Available, pending and reserved balances of the current user in minor units
// @Produce      json
// @Tags         Wallet
// @Success      200  {object}  models.Wallet
// @Router       /v2/wallet [get]
// @Security     OAuth2Password
func (controller *WalletController) Wallet(c echo.Context) error {
	wallet, err := controller.svc.GetWallet(c.Request().Context(), userID(c))
	if err != nil {
		c.Logger().Errorf("Error fetching wallet for user_id:%v error: %v", userID(c), err)
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, wallet)
}

func (controller *WalletController) SyncWallet(c echo.Context) error {
	var body SyncWalletRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	sync, err := controller.svc.SyncWallet(c.Request().Context(), userID(c), body.Address)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, sync)
}

// Transactions godoc
// @Summary      List transactions
// @Description  Transactions of the current user, newest first
// @Produce      json
// @Tags         Wallet
// @Param        type    query  string  false  "Type"
// @Param        status  query  string  false  "Status"
// @Param        limit   query  int     false  "Limit"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {object}  []models.Transaction
// @Router       /v2/transactions [get]
// @Security     OAuth2Password
func (controller *WalletController) Transactions(c echo.Context) error {
	filter, err := transactionFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	filter.UserID = userID(c)
	transactions, err := controller.svc.ListTransactions(c.Request().Context(), filter)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, transactions)
}

func (controller *WalletController) Transaction(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	transaction, err := controller.svc.FindTransaction(c.Request().Context(), id)
	if err != nil {
		return responses.Error(c, err)
	}
	if transaction.UserID != userID(c) {
		return c.JSON(http.StatusNotFound, responses.NotFoundError)
	}
	return c.JSON(http.StatusOK, transaction)
}

func transactionFilter(c echo.Context) (service.TransactionFilter, error) {
	filter := service.TransactionFilter{
		Type:   c.QueryParam("type"),
		Status: c.QueryParam("status"),
	}
	var err error
	if v := c.QueryParam("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, echo.ErrBadRequest
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			return filter, echo.ErrBadRequest
		}
	}
	return filter, nil
}
