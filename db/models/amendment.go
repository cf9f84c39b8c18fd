package models

import (
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

// Amendment : proposed change to a contract, effective once both parties approve
type Amendment struct {
	ID                     int64        `json:"id" bun:",pk,autoincrement"`
	ContractID             int64        `json:"contract_id" bun:",notnull"`
	ProposedBy             int64        `json:"proposed_by" bun:",notnull"`
	Title                  string       `json:"title" bun:",notnull"`
	Description            string       `json:"description" bun:",nullzero"`
	ProposedTerms          string       `json:"proposed_terms,omitempty" bun:",nullzero"`
	ProposedSpecialClauses string       `json:"proposed_special_clauses,omitempty" bun:",nullzero"`
	ProposedEndDate        bun.NullTime `json:"proposed_end_date"`
	ProposedPaymentAmount  int64        `json:"proposed_payment_amount,omitempty" bun:",nullzero"`
	RequesterApproved      bool         `json:"requester_approved" bun:",notnull,default:false"`
	RequesterApprovedAt    bun.NullTime `json:"requester_approved_at"`
	ProviderApproved       bool         `json:"provider_approved" bun:",notnull,default:false"`
	ProviderApprovedAt     bun.NullTime `json:"provider_approved_at"`
	Status                 string       `json:"status" bun:",notnull"`
	RejectedBy             int64        `json:"rejected_by,omitempty" bun:",nullzero"`
	RejectionReason        string       `json:"rejection_reason,omitempty" bun:",nullzero"`
	DecidedAt              bun.NullTime `json:"decided_at"`
	Revision               int64        `json:"-" bun:",notnull,default:0"`
	CreatedAt              time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}

// HasChanges reports whether the amendment proposes anything at all.
func (a *Amendment) HasChanges() bool {
	return a.ProposedTerms != "" || a.ProposedSpecialClauses != "" ||
		!a.ProposedEndDate.IsZero() || a.ProposedPaymentAmount > 0
}

// Approve records the approval of party and reports whether the amendment
// became APPROVED with it.
func (a *Amendment) Approve(party string, now time.Time) (bool, error) {
	if a.Status != common.AmendmentStatusPending {
		return false, fmt.Errorf("approve amendment in status %s: %w", a.Status, common.ErrInvalidState)
	}
	switch party {
	case common.PartyRequester:
		if a.RequesterApproved {
			return false, common.ErrAlreadyApproved
		}
		a.RequesterApproved = true
		a.RequesterApprovedAt = bun.NullTime{Time: now}
	case common.PartyProvider:
		if a.ProviderApproved {
			return false, common.ErrAlreadyApproved
		}
		a.ProviderApproved = true
		a.ProviderApprovedAt = bun.NullTime{Time: now}
	default:
		return false, common.ErrNotAParty
	}
	if a.RequesterApproved && a.ProviderApproved {
		a.Status = common.AmendmentStatusApproved
		a.DecidedAt = bun.NullTime{Time: now}
		return true, nil
	}
	return false, nil
}

func (a *Amendment) Reject(userID int64, reason string, now time.Time) error {
	if a.Status != common.AmendmentStatusPending {
		return fmt.Errorf("reject amendment in status %s: %w", a.Status, common.ErrInvalidState)
	}
	a.Status = common.AmendmentStatusRejected
	a.RejectedBy = userID
	a.RejectionReason = reason
	a.DecidedAt = bun.NullTime{Time: now}
	return nil
}
