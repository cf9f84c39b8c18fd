package settlement

import (
	"context"
)

const (
	EscrowStatusPending   = "PENDING"
	EscrowStatusFunded    = "FUNDED"
	EscrowStatusCompleted = "COMPLETED"
	EscrowStatusDisputed  = "DISPUTED"
	EscrowStatusRefunded  = "REFUNDED"

	TxStatusPending = "PENDING"
	TxStatusSuccess = "SUCCESS"
	TxStatusFailed  = "FAILED"

	OpCreateEscrow      = "create_escrow"
	OpFundEscrow        = "fund_escrow"
	OpReleasePayment    = "release_payment"
	OpSendPayment       = "send_payment"
	OpGetEscrowStatus   = "get_escrow_status"
	OpGetAccountBalance = "get_account_balance"
	OpGetTransaction    = "get_transaction"
)

//go:generate mockgen -destination=./mock_settlement/client.go github.com/homechain/escrowhub/settlement Client

// Client is the settlement network as seen by the escrow engine. Every call
// is a blocking round trip. Errors wrap common.ErrNetworkTimeout or
// common.ErrNetworkUnavailable when the outcome is unknown and
// common.ErrRemoteRejected when the network refused the request.
type Client interface {
	CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (*CreateEscrowResponse, error)
	FundEscrow(ctx context.Context, req *FundEscrowRequest) (*TxResponse, error)
	ReleasePayment(ctx context.Context, req *ReleasePaymentRequest) (*TxResponse, error)
	SendPayment(ctx context.Context, req *SendPaymentRequest) (*TxResponse, error)
	GetEscrowStatus(ctx context.Context, escrowID string) (*EscrowStatus, error)
	GetAccountBalance(ctx context.Context, address string) (*AccountBalance, error)
	// GetTransaction looks up a submission by idempotency key or tx ref.
	// It returns common.ErrNotFound when the network never saw it.
	GetTransaction(ctx context.Context, reference string) (*TransactionStatus, error)
}

type CreateEscrowRequest struct {
	EscrowID           string `json:"escrow_id"`
	FunderAddress      string `json:"funder_address"`
	BeneficiaryAddress string `json:"beneficiary_address"`
	Amount             int64  `json:"amount"`
	JobRef             string `json:"job_ref"`
	ContractRef        string `json:"contract_ref"`
	IdempotencyKey     string `json:"idempotency_key"`
}

type CreateEscrowResponse struct {
	EscrowID string `json:"escrow_id"`
	TxRef    string `json:"tx_ref"`
}

type FundEscrowRequest struct {
	EscrowID       string `json:"escrow_id"`
	FunderAddress  string `json:"funder_address"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ReleasePaymentRequest struct {
	EscrowID       string `json:"escrow_id"`
	Approver       string `json:"approver"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SendPaymentRequest struct {
	SourceAddress      string `json:"source_address"`
	SourceSecret       string `json:"source_secret,omitempty"`
	DestinationAddress string `json:"destination_address"`
	Amount             int64  `json:"amount"`
	Memo               string `json:"memo,omitempty"`
	IdempotencyKey     string `json:"idempotency_key"`
}

type TxResponse struct {
	TxRef string `json:"tx_ref"`
}

type EscrowStatus struct {
	EscrowID          string `json:"escrow_id"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	RequesterApproved bool   `json:"requester_approved"`
	ProviderApproved  bool   `json:"provider_approved"`
	FundTxRef         string `json:"fund_tx_ref,omitempty"`
	ReleaseTxRef      string `json:"release_tx_ref,omitempty"`
}

type AccountBalance struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type TransactionStatus struct {
	Reference string `json:"reference"`
	TxRef     string `json:"tx_ref"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Notification is pushed by the settlement network when an escrow or a
// submission changes state on its side.
type Notification struct {
	Type      string `json:"type"`
	EscrowID  string `json:"escrow_id,omitempty"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status,omitempty"`
}
