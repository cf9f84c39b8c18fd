package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

const DateLayout = "2006-01-02"

// Contract : one work agreement between a requester and a provider
type Contract struct {
	ID                   int64        `json:"id" bun:",pk,autoincrement"`
	JobID                int64        `json:"job_id" bun:",unique,notnull"`
	RequesterID          int64        `json:"requester_id" bun:",notnull"`
	ProviderID           int64        `json:"provider_id" bun:",notnull"`
	RequesterAddress     string       `json:"requester_address" bun:",notnull"`
	ProviderAddress      string       `json:"provider_address" bun:",notnull"`
	Title                string       `json:"title" bun:",nullzero"`
	Description          string       `json:"description" bun:",nullzero"`
	Terms                string       `json:"terms" bun:",notnull"`
	SpecialClauses       string       `json:"special_clauses" bun:",nullzero"`
	PaymentAmount        int64        `json:"payment_amount" bun:",notnull"`
	PaymentSchedule      string       `json:"payment_schedule" bun:",notnull,default:'FULL'"`
	StartDate            time.Time    `json:"start_date" bun:",notnull"`
	EndDate              bun.NullTime `json:"end_date"`
	RequesterSigned      bool         `json:"requester_signed" bun:",notnull,default:false"`
	RequesterSignedAt    bun.NullTime `json:"requester_signed_at"`
	RequesterSignatureIP string       `json:"requester_signature_ip,omitempty" bun:",nullzero"`
	ProviderSigned       bool         `json:"provider_signed" bun:",notnull,default:false"`
	ProviderSignedAt     bun.NullTime `json:"provider_signed_at"`
	ProviderSignatureIP  string       `json:"provider_signature_ip,omitempty" bun:",nullzero"`
	ContractHash         string       `json:"contract_hash,omitempty" bun:",nullzero"`
	Status               string       `json:"status" bun:",notnull"`
	IsTemplate           bool         `json:"is_template" bun:",notnull,default:false"`
	Version              int64        `json:"version" bun:",notnull,default:1"`
	Revision             int64        `json:"-" bun:",notnull,default:0"`
	Notes                string       `json:"notes,omitempty" bun:",nullzero"`
	TerminationReason    string       `json:"termination_reason,omitempty" bun:",nullzero"`
	DisputeReason        string       `json:"dispute_reason,omitempty" bun:",nullzero"`
	CreatedAt            time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt            bun.NullTime `json:"updated_at"`
	ActivatedAt          bun.NullTime `json:"activated_at"`
	CompletedAt          bun.NullTime `json:"completed_at"`
	TerminatedAt         bun.NullTime `json:"terminated_at"`
	DisputedAt           bun.NullTime `json:"disputed_at"`
}

func (c *Contract) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		c.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Contract)(nil)

// PartyOf returns which side of the contract userID is on.
func (c *Contract) PartyOf(userID int64) (string, error) {
	switch userID {
	case c.RequesterID:
		return common.PartyRequester, nil
	case c.ProviderID:
		return common.PartyProvider, nil
	}
	return "", common.ErrNotAParty
}

func (c *Contract) IsSignedByBoth() bool {
	return c.RequesterSigned && c.ProviderSigned
}

// Sign records the signature of userID. It reports whether this signature
// moved the contract to ACTIVE; the caller that observes true owns the
// escrow activation side effect and must persist the change with a
// revision check.
func (c *Contract) Sign(userID int64, ip string, now time.Time) (bool, error) {
	party, err := c.PartyOf(userID)
	if err != nil {
		return false, err
	}
	if c.Status != common.ContractStatusPending {
		return false, fmt.Errorf("sign contract in status %s: %w", c.Status, common.ErrInvalidState)
	}
	switch party {
	case common.PartyRequester:
		if c.RequesterSigned {
			return false, common.ErrAlreadySigned
		}
		c.RequesterSigned = true
		c.RequesterSignedAt = bun.NullTime{Time: now}
		c.RequesterSignatureIP = ip
	case common.PartyProvider:
		if c.ProviderSigned {
			return false, common.ErrAlreadySigned
		}
		c.ProviderSigned = true
		c.ProviderSignedAt = bun.NullTime{Time: now}
		c.ProviderSignatureIP = ip
	}
	if !c.IsSignedByBoth() {
		return false, nil
	}
	c.Status = common.ContractStatusActive
	c.ActivatedAt = bun.NullTime{Time: now}
	c.ContractHash = c.ComputeHash()
	return true, nil
}

// Publish moves a drafted contract to PENDING so it can collect signatures.
func (c *Contract) Publish(now time.Time) error {
	if c.Status != common.ContractStatusDraft {
		return fmt.Errorf("publish contract in status %s: %w", c.Status, common.ErrInvalidState)
	}
	if c.IsTemplate {
		return fmt.Errorf("templates cannot be published: %w", common.ErrInvalidState)
	}
	c.Status = common.ContractStatusPending
	c.UpdatedAt = bun.NullTime{Time: now}
	return nil
}

func (c *Contract) Complete(now time.Time) error {
	if c.Status != common.ContractStatusActive {
		return fmt.Errorf("complete contract in status %s: %w", c.Status, common.ErrInvalidState)
	}
	c.Status = common.ContractStatusCompleted
	c.CompletedAt = bun.NullTime{Time: now}
	return nil
}

func (c *Contract) Terminate(reason string, now time.Time) error {
	if c.Status != common.ContractStatusPending && c.Status != common.ContractStatusActive {
		return fmt.Errorf("terminate contract in status %s: %w", c.Status, common.ErrInvalidState)
	}
	c.Status = common.ContractStatusTerminated
	c.TerminationReason = reason
	c.TerminatedAt = bun.NullTime{Time: now}
	return nil
}

func (c *Contract) RaiseDispute(reason string, now time.Time) error {
	if c.Status != common.ContractStatusActive {
		return fmt.Errorf("dispute contract in status %s: %w", c.Status, common.ErrInvalidState)
	}
	c.Status = common.ContractStatusDisputed
	c.DisputeReason = reason
	c.DisputedAt = bun.NullTime{Time: now}
	return nil
}

// ComputeHash is the SHA-256 of the canonical JSON encoding of the signed
// terms. encoding/json sorts map keys so the encoding is deterministic.
func (c *Contract) ComputeHash() string {
	endDate := ""
	if !c.EndDate.IsZero() {
		endDate = c.EndDate.Time.UTC().Format(DateLayout)
	}
	payload := map[string]interface{}{
		"job_id":          c.JobID,
		"requester":       c.RequesterAddress,
		"provider":        c.ProviderAddress,
		"amount":          FormatAmount(c.PaymentAmount),
		"terms":           c.Terms,
		"special_clauses": c.SpecialClauses,
		"start_date":      c.StartDate.UTC().Format(DateLayout),
		"end_date":        endDate,
		"version":         c.Version,
	}
	// cannot fail for these value types
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes the hash from the stored fields.
func (c *Contract) VerifyHash() (computed string, valid bool) {
	computed = c.ComputeHash()
	return computed, c.ContractHash != "" && computed == c.ContractHash
}

// ApplyAmendment makes approved changes effective and bumps the version.
func (c *Contract) ApplyAmendment(a *Amendment, now time.Time) error {
	if a.Status != common.AmendmentStatusApproved {
		return fmt.Errorf("amendment %d is %s: %w", a.ID, a.Status, common.ErrInvalidState)
	}
	if c.Status != common.ContractStatusPending && c.Status != common.ContractStatusActive {
		return fmt.Errorf("amend contract in status %s: %w", c.Status, common.ErrInvalidState)
	}
	// the escrow amount is frozen once the contract is active
	if a.ProposedPaymentAmount > 0 && c.Status != common.ContractStatusPending {
		return fmt.Errorf("payment amount can only change before activation: %w", common.ErrInvalidState)
	}
	if a.ProposedTerms != "" {
		c.Terms = a.ProposedTerms
	}
	if a.ProposedSpecialClauses != "" {
		c.SpecialClauses = a.ProposedSpecialClauses
	}
	if !a.ProposedEndDate.IsZero() {
		c.EndDate = a.ProposedEndDate
	}
	if a.ProposedPaymentAmount > 0 {
		c.PaymentAmount = a.ProposedPaymentAmount
	}
	c.Version++
	if c.Status == common.ContractStatusActive {
		c.ContractHash = c.ComputeHash()
	}
	c.UpdatedAt = bun.NullTime{Time: now}
	return nil
}

// DaysRemaining counts whole days until the end date of an active contract.
func (c *Contract) DaysRemaining(now time.Time) int {
	if c.Status != common.ContractStatusActive || c.EndDate.IsZero() {
		return 0
	}
	days := int(c.EndDate.Time.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func (c *Contract) Summary() string {
	end := "open-ended"
	if !c.EndDate.IsZero() {
		end = c.EndDate.Time.UTC().Format(DateLayout)
	}
	return fmt.Sprintf("Contract %d for job %d: %s paid %s (%s), %s to %s, status %s, version %d",
		c.ID, c.JobID, c.Title, FormatAmount(c.PaymentAmount), c.PaymentSchedule,
		c.StartDate.UTC().Format(DateLayout), end, c.Status, c.Version)
}
