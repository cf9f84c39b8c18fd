package service

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	EventJobCompleted        = "job.completed"
	EventJobCancelled        = "job.cancelled"
	EventContractActivated   = "contract.activated"
	EventContractDisputed    = "contract.disputed"
	EventEscrowFunded        = "escrow.funded"
	EventEscrowReleased      = "escrow.released"
	EventEscrowRefunded      = "escrow.refunded"
	EventWithdrawalCompleted = "withdrawal.completed"
)

// Event is the notification the job subsystem and notification senders
// consume. The routing key is the event type.
type Event struct {
	Type         string    `json:"type"`
	JobID        int64     `json:"job_id,omitempty"`
	ContractID   int64     `json:"contract_id,omitempty"`
	EscrowID     int64     `json:"escrow_id,omitempty"`
	WithdrawalID int64     `json:"withdrawal_id,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// emit publishes ev after the state change it describes was committed.
// Publishing failures never undo that state change.
func (svc *EscrowService) emit(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = svc.now()
	}
	if svc.RabbitMQClient == nil {
		svc.Logger.Infof("event %s: contract=%d escrow=%d withdrawal=%d user=%d amount=%d",
			ev.Type, ev.ContractID, ev.EscrowID, ev.WithdrawalID, ev.UserID, ev.Amount)
		return
	}
	if err := svc.RabbitMQClient.PublishEvent(ctx, ev.Type, ev); err != nil {
		sentry.CaptureException(err)
		svc.Logger.Errorf("Failed to publish event %s: %v", ev.Type, err)
	}
}
