package migrations

import (
	"context"

	"github.com/homechain/escrowhub/db/models"
	"github.com/uptrace/bun"
)

/* Since this init will reflect the latest model fields when run on fresh db
make sure that when you add/remove columns in subsequent migrations IfNotExists/IfExists is used
otherwise it's going to result in errors.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		for _, model := range []interface{}{
			(*models.Contract)(nil),
			(*models.Milestone)(nil),
			(*models.Amendment)(nil),
			(*models.Escrow)(nil),
			(*models.Transaction)(nil),
			(*models.Wallet)(nil),
			(*models.Withdrawal)(nil),
			(*models.FeeSchedule)(nil),
		} {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}

		indexes := []struct {
			name    string
			model   interface{}
			columns []string
		}{
			{"idx_contracts_requester_status", (*models.Contract)(nil), []string{"requester_id", "status"}},
			{"idx_contracts_provider_status", (*models.Contract)(nil), []string{"provider_id", "status"}},
			{"idx_milestones_contract", (*models.Milestone)(nil), []string{"contract_id", "status"}},
			{"idx_escrows_status", (*models.Escrow)(nil), []string{"status"}},
			{"idx_transactions_user_type", (*models.Transaction)(nil), []string{"user_id", "type"}},
			{"idx_transactions_status_created", (*models.Transaction)(nil), []string{"status", "created_at"}},
			{"idx_withdrawals_user_status", (*models.Withdrawal)(nil), []string{"user_id", "status"}},
		}
		for _, idx := range indexes {
			if _, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil)
}
