package controllers

import (
	"net/http"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
)

// MilestoneController : milestones and amendments of a contract
type MilestoneController struct {
	svc *service.EscrowService
}

func NewMilestoneController(svc *service.EscrowService) *MilestoneController {
	return &MilestoneController{svc: svc}
}

type AddMilestoneRequestBody struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	DueDate     string `json:"due_date" validate:"required"`
}

type CompleteMilestoneRequestBody struct {
	Notes string `json:"notes"`
}

type ProposeAmendmentRequestBody struct {
	Title                  string `json:"title" validate:"required"`
	Description            string `json:"description"`
	ProposedTerms          string `json:"proposed_terms"`
	ProposedSpecialClauses string `json:"proposed_special_clauses"`
	ProposedEndDate        string `json:"proposed_end_date"`
	ProposedPaymentAmount  int64  `json:"proposed_payment_amount" validate:"gte=0"`
}

func (controller *MilestoneController) ListMilestones(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	ctx := c.Request().Context()
	if _, err := controller.svc.FindContractForParty(ctx, id, userID(c)); err != nil {
		return responses.Error(c, err)
	}
	milestones, err := controller.svc.ListMilestones(ctx, id)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, milestones)
}

// AddMilestone godoc
// @Summary      Add a milestone
// @Description  Only the requester adds milestones, while the contract is PENDING or ACTIVE
// @Accept       json
// @Produce      json
// @Tags         Contract
// @Param        id         path  int                      true  "Contract id"
// @Param        milestone  body  AddMilestoneRequestBody  true  "Milestone"
// @Success      200  {object}  models.Milestone
// @Router       /v2/contracts/{id}/milestones [post]
// @Security     OAuth2Password
func (controller *MilestoneController) AddMilestone(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body AddMilestoneRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load milestone request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	due, err := parseDate(body.DueDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	milestone, err := controller.svc.AddMilestone(c.Request().Context(), id, userID(c), body.Title, body.Description, body.Amount, due)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, milestone)
}

func (controller *MilestoneController) StartMilestone(c echo.Context) error {
	id, err := idParam(c, "milestone_id")
	if err != nil {
		return responses.Error(c, err)
	}
	milestone, err := controller.svc.StartMilestone(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, milestone)
}

func (controller *MilestoneController) CompleteMilestone(c echo.Context) error {
	id, err := idParam(c, "milestone_id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body CompleteMilestoneRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	milestone, err := controller.svc.CompleteMilestone(c.Request().Context(), id, userID(c), body.Notes)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, milestone)
}

func (controller *MilestoneController) DisputeMilestone(c echo.Context) error {
	id, err := idParam(c, "milestone_id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ReasonRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	milestone, err := controller.svc.DisputeMilestone(c.Request().Context(), id, userID(c), body.Reason)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, milestone)
}

func (controller *MilestoneController) ListAmendments(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	ctx := c.Request().Context()
	if _, err := controller.svc.FindContractForParty(ctx, id, userID(c)); err != nil {
		return responses.Error(c, err)
	}
	amendments, err := controller.svc.ListAmendments(ctx, id)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, amendments)
}

func (controller *MilestoneController) ProposeAmendment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ProposeAmendmentRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load amendment request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	end, err := parseDate(body.ProposedEndDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	amendment, err := controller.svc.ProposeAmendment(c.Request().Context(), id, userID(c), service.AmendmentParams{
		Title:                  body.Title,
		Description:            body.Description,
		ProposedTerms:          body.ProposedTerms,
		ProposedSpecialClauses: body.ProposedSpecialClauses,
		ProposedEndDate:        end,
		ProposedPaymentAmount:  body.ProposedPaymentAmount,
	})
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, amendment)
}

func (controller *MilestoneController) ApproveAmendment(c echo.Context) error {
	id, err := idParam(c, "amendment_id")
	if err != nil {
		return responses.Error(c, err)
	}
	amendment, err := controller.svc.ApproveAmendment(c.Request().Context(), id, userID(c))
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, amendment)
}

func (controller *MilestoneController) RejectAmendment(c echo.Context) error {
	id, err := idParam(c, "amendment_id")
	if err != nil {
		return responses.Error(c, err)
	}
	var body ReasonRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	amendment, err := controller.svc.RejectAmendment(c.Request().Context(), id, userID(c), body.Reason)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, amendment)
}
