package tokens

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// AdminUserID identifies admin actions in the ledger and the audit log.
const AdminUserID int64 = 0

// AdminTokenMiddleware guards admin routes with a static bearer token.
// Without a configured token admin routes are not registered at all.
func AdminTokenMiddleware(token string) echo.MiddlewareFunc {
	return middleware.KeyAuth(func(auth string, c echo.Context) (bool, error) {
		if auth != token {
			return false, nil
		}
		c.Set("AdminUserID", AdminUserID)
		return true, nil
	})
}
