package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/rabbitmq"
	"github.com/homechain/escrowhub/settlement"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

type EscrowService struct {
	Config         *Config
	DB             *bun.DB
	Network        settlement.Client
	SettlementCfg  *settlement.Config
	RabbitMQClient rabbitmq.Client
	Logger         *lecho.Logger
	// Audit receives one structured line per settlement network submission.
	Audit zerolog.Logger
	Now   func() time.Time
}

func (svc *EscrowService) now() time.Time {
	if svc.Now != nil {
		return svc.Now().UTC()
	}
	return time.Now().UTC()
}

func (svc *EscrowService) maxConflictRetries() int {
	if svc.Config.MaxConflictRetries > 0 {
		return svc.Config.MaxConflictRetries
	}
	return 5
}

// retryOnConflict re-runs fn while it loses revision races. fn must reload
// everything it decides on.
func (svc *EscrowService) retryOnConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < svc.maxConflictRetries(); attempt++ {
		err = fn()
		if !errors.Is(err, common.ErrConcurrentUpdate) {
			return err
		}
	}
	return err
}

// updateWithRevision writes model only if nobody else changed the row since
// it was read at prevRevision. The model's Revision must already be bumped.
func updateWithRevision(ctx context.Context, idb bun.IDB, model interface{}, prevRevision int64) error {
	res, err := idb.NewUpdate().Model(model).WherePK().Where("revision = ?", prevRevision).Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrConcurrentUpdate
	}
	return nil
}

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, common.ErrNotFound)
	}
	return err
}

// audit writes the outcome of a settlement submission.
func (svc *EscrowService) audit(op, key string, amount int64, err error) {
	ev := svc.Audit.Info()
	if err != nil {
		ev = svc.Audit.Warn().Err(err).Bool("outcome_unknown", common.IsOutcomeUnknown(err))
	}
	ev.Str("operation", op).Str("idempotency_key", key).Int64("amount", amount).Msg("settlement submission")
}
