package campaign

import (
	"time"

	"gorm.io/datatypes"
)

// ENUM-LIKE constants
type CampaignStatus string
type PostType string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"

	PostTypeSponsored PostType = "SPONSORED"
	PostTypeOrganic   PostType = "ORGANIC"
)

// Pool split applied once at activation. Percentages of reward_pool_total,
// then the user share is split 70/30 between view and engagement budgets.
const (
	UserPoolPct      = 60
	PlatformPoolPct  = 25
	LiquidityPoolPct = 10
	AffiliatePoolPct = 5

	ViewSharePct       = 70
	EngagementSharePct = 30
)

// AdCampaign owns a reward pool consumed by claims against its sponsored
// posts. Invariants: reward_pool_distributed <= reward_pool_total and
// impressions_delivered <= impressions_total, both monotonic non-decreasing.
type AdCampaign struct {
	ID                    string         `gorm:"column:id;primaryKey"`
	AdvertiserID          string         `gorm:"column:advertiser_id;index;not null"`
	Name                  string         `gorm:"column:name;type:varchar(255);not null"`
	Status                CampaignStatus `gorm:"column:status;type:varchar(50);not null;default:'DRAFT'"`
	RewardPoolTotal       int64          `gorm:"column:reward_pool_total;not null;default:0"`
	RewardPoolDistributed int64          `gorm:"column:reward_pool_distributed;not null;default:0"`
	ImpressionsTotal      int64          `gorm:"column:impressions_total;not null;default:0"`
	ImpressionsDelivered  int64          `gorm:"column:impressions_delivered;not null;default:0"`
	UserPool              int64          `gorm:"column:user_pool;not null;default:0"`
	PlatformPool          int64          `gorm:"column:platform_pool;not null;default:0"`
	LiquidityPool         int64          `gorm:"column:liquidity_pool;not null;default:0"`
	AffiliatePool         int64          `gorm:"column:affiliate_pool;not null;default:0"`
	Metadata              datatypes.JSON `gorm:"column:metadata"`
	ActivatedAt           *time.Time     `gorm:"column:activated_at"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (AdCampaign) TableName() string { return "ad_campaigns" }

// IsActive reports whether the campaign currently accepts claims.
func (c *AdCampaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// PoolRemaining is the undistributed user-pool budget.
func (c *AdCampaign) PoolRemaining() int64 {
	return c.RewardPoolTotal - c.RewardPoolDistributed
}

// SponsoredPost is the claimable surface of a campaign. RewardPerView and
// RewardPerEngagement are stamped once at activation and never recomputed.
type SponsoredPost struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	AuthorID            string    `gorm:"column:author_id;index;not null"`
	AdCampaignID        string    `gorm:"column:ad_campaign_id;index;not null"`
	Type                PostType  `gorm:"column:type;type:varchar(50);not null;default:'SPONSORED'"`
	RewardPerView       int64     `gorm:"column:reward_per_view;not null;default:0"`
	RewardPerEngagement int64     `gorm:"column:reward_per_engagement;not null;default:0"`
	ViewsCount          int64     `gorm:"column:views_count;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SponsoredPost) TableName() string { return "sponsored_posts" }
