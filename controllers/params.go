package controllers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/db/models"
	"github.com/labstack/echo/v4"
)

func userID(c echo.Context) int64 {
	id, _ := c.Get("UserID").(int64)
	return id
}

func adminID(c echo.Context) int64 {
	id, _ := c.Get("AdminUserID").(int64)
	return id
}

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, c.Param(name), common.ErrNotFound)
	}
	return id, nil
}

// parseDate accepts an empty string as the zero time.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(models.DateLayout, value)
}

type ReasonRequestBody struct {
	Reason string `json:"reason"`
}
