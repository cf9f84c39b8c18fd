package responses

import (
	"errors"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/homechain/escrowhub/common"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var NotAPartyError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "You are not a party to this contract",
	HttpStatusCode: 403,
}

var NotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "not found",
	HttpStatusCode: 404,
}

var InvalidStateError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "operation not allowed in current status",
	HttpStatusCode: 409,
}

var AlreadySignedError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "you have already signed this contract",
	HttpStatusCode: 409,
}

var AlreadyApprovedError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "you have already approved",
	HttpStatusCode: 409,
}

var AlreadyFinalError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "transaction is already final",
	HttpStatusCode: 409,
}

var FrozenError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "escrow is frozen by a dispute",
	HttpStatusCode: 409,
}

var NotProvisionedError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "escrow is not ready on the settlement network yet. please try again later",
	HttpStatusCode: 409,
}

var ConcurrentUpdateError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "the record was changed concurrently. please try again",
	HttpStatusCode: 409,
}

var DuplicateReferenceError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "this transaction reference was already recorded",
	HttpStatusCode: 409,
}

var NotEnoughBalanceError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "not enough balance",
	HttpStatusCode: 400,
}

var BelowMinimumError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "amount is below the platform minimum",
	HttpStatusCode: 400,
}

var InvalidAmountError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "amount must be positive",
	HttpStatusCode: 400,
}

var NetworkRejectedError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "the settlement network rejected the request",
	HttpStatusCode: 502,
}

// ProcessingResponse is returned when a submission reached an unknown
// outcome on the settlement network. The local state is durable and
// reconciliation will settle it.
var ProcessingResponse = ErrorResponse{
	Error:          false,
	Code:           7,
	Message:        "submitted to the settlement network, the outcome will be reconciled",
	HttpStatusCode: 202,
}

// ErrorFor maps a service error to the response the client sees.
func ErrorFor(err error) ErrorResponse {
	switch {
	case common.IsOutcomeUnknown(err):
		return ProcessingResponse
	case errors.Is(err, common.ErrRemoteRejected):
		return NetworkRejectedError
	case errors.Is(err, common.ErrNotFound):
		return NotFoundError
	case errors.Is(err, common.ErrNotAParty):
		return NotAPartyError
	case errors.Is(err, common.ErrAlreadySigned):
		return AlreadySignedError
	case errors.Is(err, common.ErrAlreadyApproved):
		return AlreadyApprovedError
	case errors.Is(err, common.ErrAlreadyFinal):
		return AlreadyFinalError
	case errors.Is(err, common.ErrFrozen):
		return FrozenError
	case errors.Is(err, common.ErrEscrowNotProvisioned):
		return NotProvisionedError
	case errors.Is(err, common.ErrConcurrentUpdate):
		return ConcurrentUpdateError
	case errors.Is(err, common.ErrDuplicateReference):
		return DuplicateReferenceError
	case errors.Is(err, common.ErrInsufficientBalance):
		return NotEnoughBalanceError
	case errors.Is(err, common.ErrBelowMinimum):
		return BelowMinimumError
	case errors.Is(err, common.ErrInvalidAmount):
		return InvalidAmountError
	case errors.Is(err, common.ErrInvalidState):
		return InvalidStateError
	}
	return GeneralServerError
}

// Error writes the response for err. Domain errors carry the wrapped
// detail in the message, server errors never do.
func Error(c echo.Context, err error) error {
	resp := ErrorFor(err)
	if resp.HttpStatusCode >= 500 && resp.HttpStatusCode != 502 {
		c.Logger().Error(err)
		captureException(c, err)
		return c.JSON(resp.HttpStatusCode, resp)
	}
	c.Logger().Infof("request failed: %v", err)
	if resp.Error {
		resp.Message = err.Error()
	}
	return c.JSON(resp.HttpStatusCode, resp)
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if isErrAllowedForSentry(err) {
		captureException(c, err)
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
		return
	}
	resp := ErrorFor(err)
	c.JSON(resp.HttpStatusCode, resp)
}

func captureException(c echo.Context, err error) {
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("UserID", c.Get("UserID"))
			hub.CaptureException(err)
		})
	}
}

// isErrAllowedForSentry filters out bad auth responses, they are noise.
func isErrAllowedForSentry(err error) bool {
	if he, ok := err.(*echo.HTTPError); ok {
		if m, ok := he.Message.(echo.Map); ok {
			if code, ok := m["code"].(int); ok && code == BadAuthError.Code {
				return false
			}
		}
	}
	return true
}
