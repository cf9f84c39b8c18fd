package models

import (
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/uptrace/bun"
)

// Milestone : tracked deliverable of a milestone based contract
type Milestone struct {
	ID              int64        `json:"id" bun:",pk,autoincrement"`
	ContractID      int64        `json:"contract_id" bun:",notnull"`
	Contract        *Contract    `json:"-" bun:"rel:belongs-to,join:contract_id=id"`
	Title           string       `json:"title" bun:",notnull"`
	Description     string       `json:"description" bun:",nullzero"`
	Amount          int64        `json:"amount" bun:",notnull"`
	DueDate         time.Time    `json:"due_date" bun:",notnull"`
	Status          string       `json:"status" bun:",notnull"`
	StartedAt       bun.NullTime `json:"started_at"`
	CompletedAt     bun.NullTime `json:"completed_at"`
	CompletedBy     int64        `json:"completed_by,omitempty" bun:",nullzero"`
	CompletionNotes string       `json:"completion_notes,omitempty" bun:",nullzero"`
	DisputeReason   string       `json:"dispute_reason,omitempty" bun:",nullzero"`
	CreatedAt       time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}

func (m *Milestone) Start(now time.Time) error {
	if m.Status != common.MilestoneStatusPending {
		return fmt.Errorf("start milestone in status %s: %w", m.Status, common.ErrInvalidState)
	}
	m.Status = common.MilestoneStatusInProgress
	m.StartedAt = bun.NullTime{Time: now}
	return nil
}

func (m *Milestone) Complete(userID int64, notes string, now time.Time) error {
	if m.Status != common.MilestoneStatusPending && m.Status != common.MilestoneStatusInProgress {
		return fmt.Errorf("complete milestone in status %s: %w", m.Status, common.ErrInvalidState)
	}
	m.Status = common.MilestoneStatusCompleted
	m.CompletedAt = bun.NullTime{Time: now}
	m.CompletedBy = userID
	m.CompletionNotes = notes
	return nil
}

func (m *Milestone) Dispute(reason string) error {
	if m.Status != common.MilestoneStatusPending && m.Status != common.MilestoneStatusInProgress {
		return fmt.Errorf("dispute milestone in status %s: %w", m.Status, common.ErrInvalidState)
	}
	m.Status = common.MilestoneStatusDisputed
	m.DisputeReason = reason
	return nil
}

// SplitMilestoneAmounts divides total into n equal parts, the last part
// absorbing the remainder so the parts always sum to total.
func SplitMilestoneAmounts(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	parts := make([]int64, n)
	share := total / int64(n)
	for i := range parts {
		parts[i] = share
	}
	parts[n-1] += total - share*int64(n)
	return parts
}
