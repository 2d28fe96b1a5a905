package campaign

import (
	"context"

	"tunegrid-rewardplane/pkg/errutil"

	"gorm.io/gorm"
)

// Accountant tracks reward-pool and impression-cap consumption. CheckCapacity
// is a fast-path read; Consume is the authoritative bounded increment and must
// run inside the same transaction as the ledger write that pays the claim.
type Accountant struct{}

func NewAccountant() *Accountant { return &Accountant{} }

// CheckCapacity rejects a claim the campaign cannot pay in full. There is no
// partial fill: a pool with less than rewardAmount remaining is exhausted.
func (a *Accountant) CheckCapacity(c *AdCampaign, rewardAmount int64, view bool) error {
	if !c.IsActive() {
		return errutil.ResourceExhausted("campaign is not active", nil)
	}
	if view && c.ImpressionsDelivered >= c.ImpressionsTotal {
		return errutil.ResourceExhausted("campaign impression cap reached", nil)
	}
	if remaining := c.PoolRemaining(); remaining <= 0 || remaining < rewardAmount {
		return errutil.ResourceExhausted("campaign reward pool exhausted", nil)
	}
	return nil
}

// Consume applies the pool increment with its bound re-checked in the same
// statement, so concurrent claims can never over-distribute. A zero
// RowsAffected means another claim won the remaining capacity.
func (a *Accountant) Consume(ctx context.Context, tx *gorm.DB, campaignID string, rewardAmount int64, view bool) error {
	q := tx.WithContext(ctx).Model(&AdCampaign{}).
		Where("id = ? AND status = ?", campaignID, CampaignStatusActive).
		Where("reward_pool_distributed + ? <= reward_pool_total", rewardAmount)

	updates := map[string]any{
		"reward_pool_distributed": gorm.Expr("reward_pool_distributed + ?", rewardAmount),
	}
	if view {
		q = q.Where("impressions_delivered < impressions_total")
		updates["impressions_delivered"] = gorm.Expr("impressions_delivered + 1")
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.ResourceExhausted("campaign reward pool exhausted", nil)
	}
	return nil
}
