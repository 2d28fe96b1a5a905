package campaign

import (
	"context"
	"time"

	"tunegrid-rewardplane/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckoutCompletedEvent is the verified payment-provider webhook payload the
// activation path consumes. Signature verification happens at the transport
// boundary; by the time it reaches here the event is trusted.
type CheckoutCompletedEvent struct {
	CampaignID string `json:"campaign_id"`
	Reference  string `json:"reference"`
}

// PoolSplit is the result of the one-time activation arithmetic.
type PoolSplit struct {
	UserPool            int64
	PlatformPool        int64
	LiquidityPool       int64
	AffiliatePool       int64
	RewardPerView       int64
	RewardPerEngagement int64
}

// SplitPool divides the funded reward pool 60/25/10/5 and derives the fixed
// per-view and per-engagement amounts from the 70/30 split of the user pool.
// Integer minor-unit arithmetic throughout; division remainders stay in the
// pool rather than drifting into per-claim amounts.
func SplitPool(rewardPoolTotal, impressionsTotal int64) PoolSplit {
	split := PoolSplit{
		UserPool:      rewardPoolTotal * UserPoolPct / 100,
		PlatformPool:  rewardPoolTotal * PlatformPoolPct / 100,
		LiquidityPool: rewardPoolTotal * LiquidityPoolPct / 100,
		AffiliatePool: rewardPoolTotal * AffiliatePoolPct / 100,
	}

	if impressionsTotal > 0 {
		split.RewardPerView = split.UserPool * ViewSharePct / 100 / impressionsTotal
		split.RewardPerEngagement = split.UserPool * EngagementSharePct / 100 / impressionsTotal
	}

	return split
}

// Activate transitions a funded campaign to ACTIVE and stamps the derived
// reward amounts onto its sponsored posts. The split is computed exactly once;
// re-activating is a Conflict.
func (s *Service) Activate(ctx context.Context, evt CheckoutCompletedEvent) (*AdCampaign, error) {
	if evt.CampaignID == "" {
		return nil, errutil.BadRequest("campaign id is required", nil)
	}

	zapLog := zap.L().With(
		zap.String("campaign_id", evt.CampaignID),
		zap.String("reference", evt.Reference),
	)

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		camp, err := s.campaigns.WithTrx(tx).FindOne(ctx, &AdCampaign{ID: evt.CampaignID})
		if err != nil {
			return err
		}
		if camp == nil {
			return errutil.NotFound("campaign not found", nil)
		}
		if camp.Status == CampaignStatusActive {
			return errutil.Conflict("campaign already active", nil)
		}
		if camp.RewardPoolTotal <= 0 || camp.ImpressionsTotal <= 0 {
			return errutil.UnprocessableEntity("campaign has no funded pool or impression target", nil)
		}

		split := SplitPool(camp.RewardPoolTotal, camp.ImpressionsTotal)
		now := time.Now()

		if err := s.campaigns.WithTrx(tx).Update(ctx, camp.ID, map[string]any{
			"status":         CampaignStatusActive,
			"user_pool":      split.UserPool,
			"platform_pool":  split.PlatformPool,
			"liquidity_pool": split.LiquidityPool,
			"affiliate_pool": split.AffiliatePool,
			"activated_at":   now,
			"updated_at":     now,
		}); err != nil {
			return err
		}

		return tx.WithContext(ctx).Model(&SponsoredPost{}).
			Where("ad_campaign_id = ?", camp.ID).
			Updates(map[string]any{
				"reward_per_view":       split.RewardPerView,
				"reward_per_engagement": split.RewardPerEngagement,
				"updated_at":            now,
			}).Error
	}); err != nil {
		zapLog.Error("campaign activation failed", zap.Error(err))
		return nil, err
	}

	zapLog.Info("campaign activated")
	return s.campaigns.FindOne(ctx, &AdCampaign{ID: evt.CampaignID})
}
