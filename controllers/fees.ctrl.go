package controllers

import (
	"net/http"
	"strconv"

	"github.com/homechain/escrowhub/db/models"
	"github.com/homechain/escrowhub/lib/responses"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// FeeController : platform fee schedules and quotes
type FeeController struct {
	svc *service.EscrowService
}

func NewFeeController(svc *service.EscrowService) *FeeController {
	return &FeeController{svc: svc}
}

type CreateFeeScheduleRequestBody struct {
	Name          string `json:"name" validate:"required"`
	FeeType       string `json:"fee_type" validate:"required,oneof=PERCENTAGE FIXED"`
	RateBps       int64  `json:"rate_bps" validate:"gte=0,lte=10000"`
	FixedAmount   int64  `json:"fixed_amount" validate:"gte=0"`
	MinFee        *int64 `json:"min_fee" validate:"omitempty,gte=0"`
	MaxFee        *int64 `json:"max_fee" validate:"omitempty,gte=0"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to"`
}

// CurrentFeeSchedule godoc
// @Summary      Current fee schedule
// @Description  The schedule applied to contracts activated now
// @Produce      json
// @Tags         Fees
// @Success      200  {object}  models.FeeSchedule
// @Router       /v2/fees/current [get]
func (controller *FeeController) CurrentFeeSchedule(c echo.Context) error {
	schedule, err := controller.svc.CurrentFeeSchedule(c.Request().Context())
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, schedule)
}

// CalculateFee godoc
// @Summary      Quote the platform fee
// @Description  Fee and provider payout for an amount in minor units
// @Produce      json
// @Tags         Fees
// @Param        amount  query  int  true  "Amount"
// @Success      200  {object}  service.FeeQuote
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v2/fees/calculate [get]
func (controller *FeeController) CalculateFee(c echo.Context) error {
	amount, err := strconv.ParseInt(c.QueryParam("amount"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	quote, err := controller.svc.QuoteFee(c.Request().Context(), amount)
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, quote)
}

func (controller *FeeController) ListFeeSchedules(c echo.Context) error {
	schedules, err := controller.svc.ListFeeSchedules(c.Request().Context())
	if err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, schedules)
}

func (controller *FeeController) CreateFeeSchedule(c echo.Context) error {
	var body CreateFeeScheduleRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load fee schedule request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	from, err := parseDate(body.EffectiveFrom)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	to, err := parseDate(body.EffectiveTo)
	if err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	schedule := &models.FeeSchedule{
		Name:          body.Name,
		FeeType:       body.FeeType,
		RateBps:       body.RateBps,
		FixedAmount:   body.FixedAmount,
		MinFee:        body.MinFee,
		MaxFee:        body.MaxFee,
		IsActive:      true,
		EffectiveFrom: from,
		EffectiveTo:   bun.NullTime{Time: to},
	}
	if err := controller.svc.CreateFeeSchedule(c.Request().Context(), schedule); err != nil {
		return responses.Error(c, err)
	}
	return c.JSON(http.StatusOK, schedule)
}
