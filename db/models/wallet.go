package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Wallet : per user balance ledger
type Wallet struct {
	ID               int64        `json:"id" bun:",pk,autoincrement"`
	UserID           int64        `json:"user_id" bun:",unique,notnull"`
	AvailableBalance int64        `json:"available_balance" bun:",notnull,default:0"`
	PendingBalance   int64        `json:"pending_balance" bun:",notnull,default:0"`
	TotalEarned      int64        `json:"total_earned" bun:",notnull,default:0"`
	TotalWithdrawn   int64        `json:"total_withdrawn" bun:",notnull,default:0"`
	NetworkAddress   string       `json:"network_address,omitempty" bun:",nullzero"`
	NetworkBalance   int64        `json:"network_balance" bun:",notnull,default:0"`
	LastSyncedAt     bun.NullTime `json:"last_synced_at"`
	CreatedAt        time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt        bun.NullTime `json:"updated_at"`
}

func (w *Wallet) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		w.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Wallet)(nil)
