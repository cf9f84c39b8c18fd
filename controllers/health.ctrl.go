package controllers

import (
	"net/http"
	"time"

	"github.com/homechain/escrowhub/lib/responses"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

type HealthController struct {
	db        *bun.DB
	startedAt time.Time
}

func NewHealthController(db *bun.DB) *HealthController {
	return &HealthController{db: db, startedAt: time.Now()}
}

type HealthResponse struct {
	Result string `json:"result"`
	Uptime string `json:"uptime"`
}

// Check godoc
// @Summary      Check system health
// @Description  Check system health
// @Produce      json
// @Tags         Health
// @Success      200  {object}  HealthResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /health [get]
func (controller *HealthController) Check(c echo.Context) error {
	if err := controller.db.PingContext(c.Request().Context()); err != nil {
		c.Logger().Errorf("Database ping failed: %v", err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}
	return c.JSON(http.StatusOK, &HealthResponse{
		Result: "OK",
		Uptime: time.Since(controller.startedAt).Truncate(time.Second).String(),
	})
}
