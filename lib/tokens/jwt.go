package tokens

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type jwtCustomClaims struct {
	ID int64 `json:"id"`
	jwt.StandardClaims
}

// Middleware authenticates the caller and puts its user id under "UserID".
// Tokens are issued by the job platform with the shared secret.
func Middleware(secret []byte) echo.MiddlewareFunc {
	config := middleware.DefaultJWTConfig
	config.ContextKey = "UserJwt"
	config.SigningKey = secret
	config.ErrorHandlerWithContext = func(err error, c echo.Context) error {
		c.Logger().Error(err)
		return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{
			"error":   true,
			"code":    1,
			"message": "bad auth",
		})
	}
	config.SuccessHandler = func(c echo.Context) {
		token := c.Get("UserJwt").(*jwt.Token)
		claims := token.Claims.(jwt.MapClaims)
		if id, ok := claims["id"].(float64); ok {
			c.Set("UserID", int64(id))
		}
	}
	return middleware.JWTWithConfig(config)
}

// GenerateAccessToken issues a token for userID valid for expiryInSeconds.
func GenerateAccessToken(secret []byte, expiryInSeconds int, userID int64) (string, error) {
	claims := &jwtCustomClaims{
		ID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Second * time.Duration(expiryInSeconds)).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken returns the user id of a valid token.
func ParseToken(secret []byte, token string) (int64, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return -1, err
	}
	if !parsed.Valid {
		return -1, errors.New("invalid token")
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return -1, errors.New("token without user id")
	}
	return int64(id), nil
}
