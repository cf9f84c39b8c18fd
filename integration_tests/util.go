package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/homechain/escrowhub/db"
	"github.com/homechain/escrowhub/db/migrations"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/homechain/escrowhub/lib/tokens"
	"github.com/homechain/escrowhub/lib/transport"
	"github.com/homechain/escrowhub/settlement"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun/migrate"
	"github.com/ziflex/lecho/v3"
)

const (
	requesterID = int64(1)
	providerID  = int64(2)
	outsiderID  = int64(3)

	adminToken = "admin-token"
)

var jwtSecret = []byte("SECRET")

func EscrowHubTestServiceInit(dir string, network settlement.Client) (svc *service.EscrowService, err error) {
	c := &service.Config{
		JWTSecret:              jwtSecret,
		JWTAccessTokenExpiry:   3600,
		AdminToken:             adminToken,
		DefaultRateLimit:       1000,
		StrictRateLimit:        1000,
		BurstRateLimit:         1000,
		BaseCurrency:           "USD",
		WithdrawalMinimum:      100,
		ReconcilePendingAfter:  time.Minute,
		ReconcileInFlightAfter: 2 * time.Minute,
		ReconcileMaxAttempts:   3,
		ReconcileBatchSize:     50,
		MaxConflictRetries:     10,
	}
	c.DatabaseUri = "sqlite://" + filepath.Join(dir, "escrowhub.db")
	dbConn, err := db.Open(&c.Config)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	if err = migrator.Init(ctx); err != nil {
		return nil, err
	}
	if _, err = migrator.Migrate(ctx); err != nil {
		return nil, err
	}

	return &service.EscrowService{
		Config:        c,
		DB:            dbConn,
		Network:       network,
		SettlementCfg: &settlement.Config{PlatformAddress: "platform-account"},
		Logger:        lecho.New(io.Discard),
		Audit:         zerolog.Nop(),
	}, nil
}

// TestSuite serves the full route table of the API.
type TestSuite struct {
	suite.Suite
	echo    *echo.Echo
	service *service.EscrowService
}

func (suite *TestSuite) initEcho(svc *service.EscrowService) {
	suite.service = svc
	e := transport.InitEcho(svc.Config, svc.Logger)
	logMw := transport.CreateLoggingMiddleware(svc.Logger)
	secured := e.Group("", tokens.Middleware(svc.Config.JWTSecret), logMw)
	strict := e.Group("", tokens.Middleware(svc.Config.JWTSecret),
		transport.CreateRateLimitMiddleware(svc.Config.StrictRateLimit, svc.Config.BurstRateLimit), logMw)
	transport.RegisterV2Endpoints(svc, e, secured, strict, tokens.AdminTokenMiddleware(svc.Config.AdminToken), nil)
	suite.echo = e
}

func (suite *TestSuite) tokenFor(userID int64) string {
	token, err := tokens.GenerateAccessToken(jwtSecret, 3600, userID)
	suite.Require().NoError(err)
	return token
}

// do sends body as JSON with the token of userID, or the admin token when
// userID is negative, and decodes the response into out when given.
func (suite *TestSuite) do(method, path string, userID int64, body interface{}, out interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	switch {
	case userID < 0:
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+adminToken)
	case userID > 0:
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+suite.tokenFor(userID))
	}
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	if out != nil && rec.Code < http.StatusMultipleChoices {
		suite.Require().NoError(json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
