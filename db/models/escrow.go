package models

import (
	"context"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

// Escrow : custodial holding of the funds of one contract on the settlement network
type Escrow struct {
	ID                    int64        `json:"id" bun:",pk,autoincrement"`
	ContractID            int64        `json:"contract_id" bun:",unique,notnull"`
	Contract              *Contract    `json:"-" bun:"rel:belongs-to,join:contract_id=id"`
	JobID                 int64        `json:"job_id" bun:",notnull"`
	RequesterID           int64        `json:"requester_id" bun:",notnull"`
	ProviderID            int64        `json:"provider_id" bun:",notnull"`
	NetworkEscrowID       string       `json:"network_escrow_id,omitempty" bun:",nullzero"`
	TotalAmount           int64        `json:"total_amount" bun:",notnull"`
	PlatformFee           int64        `json:"platform_fee" bun:",notnull"`
	ProviderAmount        int64        `json:"provider_amount" bun:",notnull"`
	ReleasedAmount        int64        `json:"released_amount" bun:",notnull,default:0"`
	FeeScheduleID         int64        `json:"fee_schedule_id,omitempty" bun:",nullzero"`
	Status                string       `json:"status" bun:",notnull"`
	ProvisionState        string       `json:"provision_state" bun:",notnull,default:'none'"`
	ProvisionAttempts     int          `json:"provision_attempts" bun:",notnull,default:0"`
	ProvisionSubmittedAt  bun.NullTime `json:"-"`
	ProvisionTxRef        string       `json:"-" bun:",nullzero"`
	FundState             string       `json:"fund_state" bun:",notnull,default:'none'"`
	FundAttempt           int          `json:"-" bun:",notnull,default:0"`
	FundIdempotencyKey    string       `json:"-" bun:",nullzero"`
	FundSubmittedAt       bun.NullTime `json:"-"`
	FundTxRef             string       `json:"fund_tx_ref,omitempty" bun:",nullzero"`
	ReleaseState          string       `json:"release_state" bun:",notnull,default:'none'"`
	ReleaseAttempt        int          `json:"release_attempt" bun:",notnull,default:0"`
	ReleaseIdempotencyKey string       `json:"-" bun:",nullzero"`
	ReleaseSubmittedAt    bun.NullTime `json:"-"`
	ReleaseTxRef          string       `json:"release_tx_ref,omitempty" bun:",nullzero"`
	RequesterApproved     bool         `json:"requester_approved" bun:",notnull,default:false"`
	RequesterApprovedAt   bun.NullTime `json:"requester_approved_at"`
	ProviderApproved      bool         `json:"provider_approved" bun:",notnull,default:false"`
	ProviderApprovedAt    bun.NullTime `json:"provider_approved_at"`
	DisputeReason         string       `json:"dispute_reason,omitempty" bun:",nullzero"`
	Revision              int64        `json:"-" bun:",notnull,default:0"`
	CreatedAt             time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt             bun.NullTime `json:"updated_at"`
	FundedAt              bun.NullTime `json:"funded_at"`
	CompletedAt           bun.NullTime `json:"completed_at"`
	DisputedAt            bun.NullTime `json:"disputed_at"`
	RefundedAt            bun.NullTime `json:"refunded_at"`
}

func (e *Escrow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		e.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Escrow)(nil)

// NewEscrow builds the local escrow of an activated contract. The fee is
// frozen here and never recomputed.
func NewEscrow(c *Contract, platformFee, feeScheduleID int64, now time.Time) *Escrow {
	return &Escrow{
		ContractID:     c.ID,
		JobID:          c.JobID,
		RequesterID:    c.RequesterID,
		ProviderID:     c.ProviderID,
		TotalAmount:    c.PaymentAmount,
		PlatformFee:    platformFee,
		ProviderAmount: c.PaymentAmount - platformFee,
		FeeScheduleID:  feeScheduleID,
		Status:         common.EscrowStatusPending,
		ProvisionState: common.SubmissionNone,
		FundState:      common.SubmissionNone,
		ReleaseState:   common.SubmissionNone,
		CreatedAt:      now,
	}
}

// ExpectedNetworkID is the escrow id the settlement network assigns to this
// escrow. It is derived from the job and contract so a creation with an
// unknown outcome can be looked up.
func (e *Escrow) ExpectedNetworkID() string {
	return fmt.Sprintf("escrow_%d_%d", e.JobID, e.ContractID)
}

func (e *Escrow) IsProvisioned() bool {
	return e.NetworkEscrowID != ""
}

func (e *Escrow) IsTerminal() bool {
	return e.Status == common.EscrowStatusCompleted || e.Status == common.EscrowStatusRefunded
}

func (e *Escrow) PartyOf(userID int64) (string, error) {
	switch userID {
	case e.RequesterID:
		return common.PartyRequester, nil
	case e.ProviderID:
		return common.PartyProvider, nil
	}
	return "", common.ErrNotAParty
}

// BeginProvision installs the in-flight marker for create_escrow.
func (e *Escrow) BeginProvision(now time.Time) error {
	if e.IsProvisioned() || e.ProvisionState == common.SubmissionInFlight || e.IsTerminal() {
		return fmt.Errorf("provision escrow in state %s: %w", e.ProvisionState, common.ErrInvalidState)
	}
	e.ProvisionState = common.SubmissionInFlight
	e.ProvisionAttempts++
	e.ProvisionSubmittedAt = bun.NullTime{Time: now}
	return nil
}

func (e *Escrow) MarkProvisioned(networkID, txRef string) {
	e.NetworkEscrowID = networkID
	e.ProvisionTxRef = txRef
	e.ProvisionState = common.SubmissionSettled
}

// MarkProvisionFailed records a failed create_escrow. unknown is set when
// the network may still have created the escrow.
func (e *Escrow) MarkProvisionFailed(unknown bool) {
	if unknown {
		e.ProvisionState = common.SubmissionUnknown
		return
	}
	e.ProvisionState = common.SubmissionFailed
}

// BeginFund validates a funding request and returns the idempotency key
// for the fund_escrow submission.
func (e *Escrow) BeginFund(amount int64, now time.Time) (string, error) {
	if e.Status != common.EscrowStatusPending {
		return "", fmt.Errorf("fund escrow in status %s: %w", e.Status, common.ErrInvalidState)
	}
	if !e.IsProvisioned() {
		return "", common.ErrEscrowNotProvisioned
	}
	if amount != e.TotalAmount {
		return "", fmt.Errorf("fund amount %s does not match escrow total %s: %w",
			FormatAmount(amount), FormatAmount(e.TotalAmount), common.ErrInvalidAmount)
	}
	switch e.FundState {
	case common.SubmissionInFlight, common.SubmissionUnknown, common.SubmissionSettled:
		return "", fmt.Errorf("funding already submitted (%s): %w", e.FundState, common.ErrInvalidState)
	}
	e.FundAttempt++
	e.FundState = common.SubmissionInFlight
	e.FundIdempotencyKey = fmt.Sprintf("escrow-%d-fund-%d", e.ID, e.FundAttempt)
	e.FundSubmittedAt = bun.NullTime{Time: now}
	return e.FundIdempotencyKey, nil
}

func (e *Escrow) MarkFunded(txRef string, now time.Time) error {
	if e.Status != common.EscrowStatusPending {
		return fmt.Errorf("mark funded in status %s: %w", e.Status, common.ErrInvalidState)
	}
	e.Status = common.EscrowStatusFunded
	e.FundState = common.SubmissionSettled
	if txRef != "" {
		e.FundTxRef = txRef
	}
	e.FundedAt = bun.NullTime{Time: now}
	return nil
}

func (e *Escrow) MarkFundFailed(unknown bool) {
	if unknown {
		e.FundState = common.SubmissionUnknown
		return
	}
	e.FundState = common.SubmissionFailed
}

// Approve records the completion approval of party. It reports whether the
// escrow is now ready to be released.
func (e *Escrow) Approve(party string, now time.Time) (bool, error) {
	if e.Status == common.EscrowStatusDisputed {
		return false, common.ErrFrozen
	}
	if e.Status != common.EscrowStatusFunded && e.Status != common.EscrowStatusInProgress {
		return false, fmt.Errorf("approve escrow in status %s: %w", e.Status, common.ErrInvalidState)
	}
	switch party {
	case common.PartyRequester:
		if e.RequesterApproved {
			return false, common.ErrAlreadyApproved
		}
		e.RequesterApproved = true
		e.RequesterApprovedAt = bun.NullTime{Time: now}
	case common.PartyProvider:
		if e.ProviderApproved {
			return false, common.ErrAlreadyApproved
		}
		e.ProviderApproved = true
		e.ProviderApprovedAt = bun.NullTime{Time: now}
	default:
		return false, common.ErrNotAParty
	}
	if e.Status == common.EscrowStatusFunded {
		e.Status = common.EscrowStatusInProgress
	}
	return e.ReleaseReady(), nil
}

// ReleaseReady reports whether a new release submission may start. An
// unknown previous submission has to be resolved by reconciliation first.
func (e *Escrow) ReleaseReady() bool {
	return e.Status == common.EscrowStatusInProgress &&
		e.RequesterApproved && e.ProviderApproved &&
		(e.ReleaseState == common.SubmissionNone || e.ReleaseState == common.SubmissionFailed)
}

// BeginRelease installs the in-flight marker for release_payment and returns
// the idempotency key of this attempt. A definitively failed attempt gets a
// new key; the first attempt is number 1.
func (e *Escrow) BeginRelease(now time.Time) (string, error) {
	if !e.ReleaseReady() {
		return "", fmt.Errorf("release escrow in status %s with release %s: %w", e.Status, e.ReleaseState, common.ErrInvalidState)
	}
	e.ReleaseAttempt++
	e.ReleaseIdempotencyKey = fmt.Sprintf("escrow-%d-release-%d", e.ID, e.ReleaseAttempt)
	e.ReleaseState = common.SubmissionInFlight
	e.ReleaseSubmittedAt = bun.NullTime{Time: now}
	return e.ReleaseIdempotencyKey, nil
}

// ResumeRelease re-submits a release whose outcome was unknown and which the
// network has no record of, under the same idempotency key.
func (e *Escrow) ResumeRelease(now time.Time) (string, error) {
	if e.ReleaseState != common.SubmissionUnknown || e.Status != common.EscrowStatusInProgress {
		return "", fmt.Errorf("resume release in state %s: %w", e.ReleaseState, common.ErrInvalidState)
	}
	e.ReleaseState = common.SubmissionInFlight
	e.ReleaseSubmittedAt = bun.NullTime{Time: now}
	return e.ReleaseIdempotencyKey, nil
}

// CompleteRelease commits a release confirmed by the network.
func (e *Escrow) CompleteRelease(txRef string, now time.Time) error {
	switch e.Status {
	case common.EscrowStatusFunded, common.EscrowStatusInProgress, common.EscrowStatusDisputed:
	default:
		return fmt.Errorf("complete release in status %s: %w", e.Status, common.ErrInvalidState)
	}
	e.Status = common.EscrowStatusCompleted
	e.ReleasedAmount = e.ProviderAmount
	e.ReleaseState = common.SubmissionSettled
	if txRef != "" {
		e.ReleaseTxRef = txRef
	}
	e.CompletedAt = bun.NullTime{Time: now}
	return nil
}

func (e *Escrow) MarkReleaseFailed(unknown bool) {
	if unknown {
		e.ReleaseState = common.SubmissionUnknown
		return
	}
	e.ReleaseState = common.SubmissionFailed
}

// Dispute freezes the escrow. It is refused while a release may be moving
// money on the network.
func (e *Escrow) Dispute(reason string, now time.Time) error {
	if e.Status != common.EscrowStatusFunded && e.Status != common.EscrowStatusInProgress {
		return fmt.Errorf("dispute escrow in status %s: %w", e.Status, common.ErrInvalidState)
	}
	if e.ReleaseState == common.SubmissionInFlight || e.ReleaseState == common.SubmissionUnknown {
		return fmt.Errorf("release outcome pending: %w", common.ErrInvalidState)
	}
	e.Status = common.EscrowStatusDisputed
	e.DisputeReason = reason
	e.DisputedAt = bun.NullTime{Time: now}
	return nil
}

func (e *Escrow) MarkRefunded(now time.Time) error {
	if e.Status != common.EscrowStatusDisputed {
		return fmt.Errorf("refund escrow in status %s: %w", e.Status, common.ErrInvalidState)
	}
	e.Status = common.EscrowStatusRefunded
	e.RefundedAt = bun.NullTime{Time: now}
	return nil
}

// ObserveDispute applies a dispute raised directly on the network. Any
// release with an unknown outcome did not settle there.
func (e *Escrow) ObserveDispute(now time.Time) error {
	if e.Status != common.EscrowStatusFunded && e.Status != common.EscrowStatusInProgress {
		return fmt.Errorf("observe dispute in status %s: %w", e.Status, common.ErrInvalidState)
	}
	if e.ReleaseState == common.SubmissionInFlight || e.ReleaseState == common.SubmissionUnknown {
		e.ReleaseState = common.SubmissionFailed
	}
	e.Status = common.EscrowStatusDisputed
	e.DisputedAt = bun.NullTime{Time: now}
	return nil
}
