package service

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// StartReconciliationRoutine runs a reconciliation pass every
// ReconcileInterval until ctx is cancelled.
func (svc *EscrowService) StartReconciliationRoutine(ctx context.Context) (err error) {
	interval := svc.Config.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		svc.runReconciliation(ctx)
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		}
	}
}

func (svc *EscrowService) runReconciliation(ctx context.Context) {
	pendingAfter := svc.Config.ReconcilePendingAfter
	if pendingAfter <= 0 {
		pendingAfter = 10 * time.Minute
	}
	summary, err := svc.ReconcileAll(ctx, svc.now().Add(-pendingAfter))
	if err != nil && err != context.Canceled {
		sentry.CaptureException(err)
		svc.Logger.Errorf("Reconciliation pass failed: %v", err)
		return
	}
	if summary == nil {
		return
	}
	if summary.Errors > 0 || len(summary.Actions) > 0 {
		svc.Logger.Infof("Reconciled %d escrows, %d withdrawals, %d transactions: actions %v, %d errors",
			summary.Escrows, summary.Withdrawals, summary.Transactions, summary.Actions, summary.Errors)
	}
}

// StartSettlementEventRoutine consumes settlement network notifications
// from RabbitMQ. Without RabbitMQ the periodic reconciliation is the only
// source of network updates.
func (svc *EscrowService) StartSettlementEventRoutine(ctx context.Context) (err error) {
	if svc.RabbitMQClient == nil {
		<-ctx.Done()
		return context.Canceled
	}
	err = svc.RabbitMQClient.SubscribeToSettlementEvents(ctx, svc.HandleSettlementEvent)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
