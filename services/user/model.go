package user

import (
	"time"
)

// User carries the reward-ledger view of an account. OffChainBalance must
// equal the signed sum of the user's committed reward transactions at every
// observable point; TotalEarned and TotalWithdrawn only ever grow except for
// the compensating rollback of a failed settlement.
type User struct {
	ID              string    `gorm:"column:id;primaryKey"`
	Handle          string    `gorm:"column:handle;uniqueIndex"`
	OffChainBalance int64     `gorm:"column:off_chain_balance;not null;default:0"`
	TotalEarned     int64     `gorm:"column:total_earned;not null;default:0"`
	TotalWithdrawn  int64     `gorm:"column:total_withdrawn;not null;default:0"`
	WalletAddress   *string   `gorm:"column:wallet_address"`
	ReferredByID    *string   `gorm:"column:referred_by_id;index"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }
