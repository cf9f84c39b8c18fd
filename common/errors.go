package common

import "errors"

var (
	ErrInvalidState         = errors.New("operation not allowed in current status")
	ErrNotAParty            = errors.New("caller is not a party to this contract")
	ErrAlreadySigned        = errors.New("party has already signed")
	ErrAlreadyApproved      = errors.New("party has already approved")
	ErrAlreadyFinal         = errors.New("transaction is already final")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrBelowMinimum         = errors.New("amount is below the platform minimum")
	ErrDuplicateReference   = errors.New("duplicate external transaction reference")
	ErrNetworkUnavailable   = errors.New("settlement network unavailable")
	ErrNetworkTimeout       = errors.New("settlement network timeout")
	ErrRemoteRejected       = errors.New("settlement network rejected the request")
	ErrFrozen               = errors.New("escrow is frozen by a dispute")
	ErrNotFound             = errors.New("not found")
	ErrConcurrentUpdate     = errors.New("concurrent update, please retry")
	ErrEscrowNotProvisioned = errors.New("escrow is not provisioned on the settlement network yet")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// IsOutcomeUnknown reports whether a settlement error leaves the outcome of
// the submission undecided. Such submissions are resolved by reconciliation
// and must never be re-sent blindly.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrNetworkUnavailable)
}

// IsNetworkError reports whether err came from the settlement network.
func IsNetworkError(err error) bool {
	return IsOutcomeUnknown(err) || errors.Is(err, ErrRemoteRejected)
}
