package common

const (
	ContractStatusDraft      = "DRAFT"
	ContractStatusPending    = "PENDING"
	ContractStatusActive     = "ACTIVE"
	ContractStatusCompleted  = "COMPLETED"
	ContractStatusTerminated = "TERMINATED"
	ContractStatusDisputed   = "DISPUTED"

	PaymentScheduleFull      = "FULL"
	PaymentScheduleHalf      = "HALF"
	PaymentScheduleMilestone = "MILESTONE"
	PaymentScheduleWeekly    = "WEEKLY"

	MilestoneStatusPending    = "PENDING"
	MilestoneStatusInProgress = "IN_PROGRESS"
	MilestoneStatusCompleted  = "COMPLETED"
	MilestoneStatusDisputed   = "DISPUTED"

	AmendmentStatusPending  = "PENDING"
	AmendmentStatusApproved = "APPROVED"
	AmendmentStatusRejected = "REJECTED"

	EscrowStatusPending    = "PENDING"
	EscrowStatusFunded     = "FUNDED"
	EscrowStatusInProgress = "IN_PROGRESS"
	EscrowStatusCompleted  = "COMPLETED"
	EscrowStatusDisputed   = "DISPUTED"
	EscrowStatusRefunded   = "REFUNDED"

	// Outcome of a settlement network submission as seen locally.
	// "unknown" means the call timed out or the network was unreachable
	// and only reconciliation may decide what happened.
	SubmissionNone     = "none"
	SubmissionInFlight = "in_flight"
	SubmissionSettled  = "settled"
	SubmissionFailed   = "failed"
	SubmissionUnknown  = "unknown"

	TransactionTypeEscrowCreate  = "ESCROW_CREATE"
	TransactionTypeEscrowFund    = "ESCROW_FUND"
	TransactionTypeEscrowRelease = "ESCROW_RELEASE"
	TransactionTypeEscrowRefund  = "ESCROW_REFUND"
	TransactionTypeWithdrawal    = "WITHDRAWAL"
	TransactionTypeDeposit       = "DEPOSIT"
	TransactionTypePlatformFee   = "PLATFORM_FEE"

	TransactionStatusPending   = "PENDING"
	TransactionStatusSuccess   = "SUCCESS"
	TransactionStatusFailed    = "FAILED"
	TransactionStatusCancelled = "CANCELLED"

	WithdrawalStatusPending    = "PENDING"
	WithdrawalStatusProcessing = "PROCESSING"
	WithdrawalStatusCompleted  = "COMPLETED"
	WithdrawalStatusFailed     = "FAILED"
	WithdrawalStatusCancelled  = "CANCELLED"

	FeeTypePercentage = "PERCENTAGE"
	FeeTypeFixed      = "FIXED"

	PartyRequester = "requester"
	PartyProvider  = "provider"

	// basis points per 100%
	BasisPointsScale = 10000
	// minor units per major currency unit
	MinorUnitScale = 100

	DefaultFeeRateBps = 500
	DefaultFeeMin     = 100
	DefaultFeeMax     = 5000
)
