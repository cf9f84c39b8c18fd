package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. DB level checks can not be enabled!\n")
			return nil
		}
		sql := `
			-- wallet balances can never go negative
				ALTER TABLE wallets
				ADD CONSTRAINT check_available_balance
				CHECK (available_balance >= 0);

				ALTER TABLE wallets
				ADD CONSTRAINT check_pending_balance
				CHECK (pending_balance >= 0);

			-- money released from an escrow never exceeds the provider share
				ALTER TABLE escrows
				ADD CONSTRAINT check_released_amount
				CHECK (released_amount >= 0 AND released_amount <= provider_amount);
		`
		if _, err := db.Exec(sql); err != nil {
			return err
		}
		return nil
	}, nil)
}
