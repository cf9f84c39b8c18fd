package controllers

import (
	"net/http"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// ContractController : contract lifecycle endpoints
type ContractController struct {
	svc *service.EscrowService
}

func NewContractController(svc *service.EscrowService) *ContractController {
	return &ContractController{svc: svc}
}

type CreateContractRequestBody struct {
	JobID            int64  `json:"job_id" validate:"required,gt=0"`
	ProviderID       int64  `json:"provider_id" validate:"required,gt=0"`
	RequesterAddress string `json:"requester_address"`
	ProviderAddress  string `json:"provider_address"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Terms            string `json:"terms" validate:"required"`
	SpecialClauses   string `json:"special_clauses"`
	Notes            string `json:"notes"`
	PaymentAmount    int64  `json:"payment_amount" validate:"required,gt=0"`
	PaymentSchedule  string `json:"payment_schedule" validate:"omitempty,oneof=FULL HALF MILESTONE WEEKLY"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	Draft            bool   `json:"draft"`
	IsTemplate       bool   `json:"is_template"`
}

// CreateContract godoc
// @Summary      Create a contract
// @Description  Creates the contract of an accepted application. The caller is the requester.
// @Accept       json
// @Produce      json
// @Tags         Contract
// @Param        contract  body      CreateContractRequestBody  true  "Contract"
// @Success      200       {object}  models.Contract
// @Failure      400       {object}  responses.ErrorResponse
// @Failure      500       {object}  responses.ErrorResponse
// @Router       /v2/contracts [post]
// @Security     OAuth2Password
func (controller *ContractController) CreateContract(c echo.Context) error {
	var body CreateContractRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load create contract request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid create contract request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	start, err := parseDate(body.StartDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	end, err := parseDate(body.EndDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	contract, err := controller.svc.CreateContract(c.Request().Context(), service.CreateContractParams{
		JobID:            body.JobID,
		RequesterID:      userID(c),
		ProviderID:       body.ProviderID,
		RequesterAddress: body.RequesterAddress,
		ProviderAddress:  body.ProviderAddress,
		Title:            body.Title,
		Description:      body.Description,
		Terms:            body.Terms,
		SpecialClauses:   body.SpecialClauses,
		Notes:            body.Notes,
		PaymentAmount:    body.PaymentAmount,
		PaymentSchedule:  body.PaymentSchedule,
		StartDate:        start,
		EndDate:          end,
		Draft:            body.Draft,
		IsTemplate:       body.IsTemplate,
	})
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

// ListContracts godoc
// @Summary      List contracts
// @Description  Contracts the caller is a party to, optionally filtered by status
// @Produce      json
// @Tags         Contract
// @Param        status  query  string  false  "Status"
// @Success      200  {object}  []models.Contract
// @Router       /v2/contracts [get]
// @Security     OAuth2Password
func (controller *ContractController) ListContracts(c echo.Context) error {
	contracts, err := controller.svc.ListContracts(c.Request().Context(), userID(c), c.QueryParam("status"))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contracts)
}

func (controller *ContractController) GetContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	contract, err := controller.svc.FindContractForParty(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

// SignContract godoc
// @Summary      Sign a contract
// @Description  The second signature activates the contract and creates its escrow
// @Produce      json
// @Tags         Contract
// @Param        id   path      int  true  "Contract id"
// @Success      200  {object}  service.SignResult
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /v2/contracts/{id}/sign [post]
// @Security     OAuth2Password
func (controller *ContractController) SignContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	result, err := controller.svc.SignContract(c.Request().Context(), id, userID(c), c.RealIP())
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (controller *ContractController) PublishContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	contract, err := controller.svc.PublishContract(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

func (controller *ContractController) CompleteContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	contract, err := controller.svc.CompleteContract(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

func (controller *ContractController) TerminateContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ReasonRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	contract, err := controller.svc.TerminateContract(c.Request().Context(), id, userID(c), body.Reason)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

// RaiseDispute godoc
// @Summary      Dispute a contract
// @Description  Freezes the escrow until arbitration on the settlement network decides
// @Accept       json
// @Produce      json
// @Tags         Contract
// @Param        id      path  int                true  "Contract id"
// @Param        reason  body  ReasonRequestBody  true  "Reason"
// @Success      200  {object}  models.Contract
// @Router       /v2/contracts/{id}/dispute [post]
// @Security     OAuth2Password
func (controller *ContractController) RaiseDispute(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ReasonRequestBody
	if err := c.Bind(&body); err != nil || body.Reason == "" {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	contract, err := controller.svc.RaiseDispute(c.Request().Context(), id, userID(c), body.Reason)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

func (controller *ContractController) VerifyContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	verification, err := controller.svc.VerifyContract(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, verification)
}

func (controller *ContractController) SummarizeContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	summary, err := controller.svc.SummarizeContract(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}
