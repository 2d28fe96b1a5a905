package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewTestDB(t, &AdCampaign{}, &SponsoredPost{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "error is %v", err)
	require.Equal(t, want, be.Status())
}

func TestSplitPool(t *testing.T) {
	// 1,000,000 minor units over 10,000 impressions:
	// user pool 600,000, of which 70% view budget / 10,000 = 42 per view
	// and 30% engagement budget / 10,000 = 18 per engagement.
	split := SplitPool(1_000_000, 10_000)
	require.Equal(t, int64(600_000), split.UserPool)
	require.Equal(t, int64(250_000), split.PlatformPool)
	require.Equal(t, int64(100_000), split.LiquidityPool)
	require.Equal(t, int64(50_000), split.AffiliatePool)
	require.Equal(t, int64(42), split.RewardPerView)
	require.Equal(t, int64(18), split.RewardPerEngagement)
}

func TestSplitPoolRemainderStaysInPool(t *testing.T) {
	// 101 does not divide evenly; the sub-pools truncate and the remainder
	// stays undistributed rather than leaking into per-claim amounts.
	split := SplitPool(101, 3)
	require.Equal(t, int64(60), split.UserPool)
	require.Equal(t, int64(25), split.PlatformPool)
	require.Equal(t, int64(10), split.LiquidityPool)
	require.Equal(t, int64(5), split.AffiliatePool)
	require.LessOrEqual(t, split.UserPool+split.PlatformPool+split.LiquidityPool+split.AffiliatePool, int64(101))
	require.Equal(t, int64(14), split.RewardPerView)  // 60*70/100/3
	require.Equal(t, int64(6), split.RewardPerEngagement)
}

func TestSplitPoolZeroImpressions(t *testing.T) {
	split := SplitPool(1000, 0)
	require.Equal(t, int64(0), split.RewardPerView)
	require.Equal(t, int64(0), split.RewardPerEngagement)
}

func TestActivate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&AdCampaign{
		ID:               "camp",
		AdvertiserID:     "advertiser",
		Name:             "launch",
		Status:           CampaignStatusDraft,
		RewardPoolTotal:  1_000_000,
		ImpressionsTotal: 10_000,
	}).Error)
	require.NoError(t, db.Create(&SponsoredPost{
		ID:           "post-1",
		AuthorID:     "author",
		AdCampaignID: "camp",
		Type:         PostTypeSponsored,
	}).Error)
	require.NoError(t, db.Create(&SponsoredPost{
		ID:           "post-2",
		AuthorID:     "author",
		AdCampaignID: "camp",
		Type:         PostTypeSponsored,
	}).Error)

	camp, err := svc.Activate(ctx, CheckoutCompletedEvent{CampaignID: "camp", Reference: "chk_123"})
	require.NoError(t, err)
	require.Equal(t, CampaignStatusActive, camp.Status)
	require.Equal(t, int64(600_000), camp.UserPool)
	require.Equal(t, int64(250_000), camp.PlatformPool)
	require.Equal(t, int64(100_000), camp.LiquidityPool)
	require.Equal(t, int64(50_000), camp.AffiliatePool)
	require.NotNil(t, camp.ActivatedAt)

	var posts []*SponsoredPost
	require.NoError(t, db.Order("id").Find(&posts).Error)
	require.Len(t, posts, 2)
	for _, p := range posts {
		require.Equal(t, int64(42), p.RewardPerView)
		require.Equal(t, int64(18), p.RewardPerEngagement)
	}

	// Re-activation must not recompute the split.
	_, err = svc.Activate(ctx, CheckoutCompletedEvent{CampaignID: "camp", Reference: "chk_456"})
	requireStatus(t, err, errutil.StatusConflict)
}

func TestActivateUnfunded(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, db.Create(&AdCampaign{
		ID:           "camp",
		AdvertiserID: "advertiser",
		Name:         "empty",
		Status:       CampaignStatusDraft,
	}).Error)

	_, err := svc.Activate(context.Background(), CheckoutCompletedEvent{CampaignID: "camp"})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestActivateUnknownCampaign(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Activate(context.Background(), CheckoutCompletedEvent{CampaignID: "missing"})
	requireStatus(t, err, errutil.StatusNotFound)

	_, err = svc.Activate(context.Background(), CheckoutCompletedEvent{})
	requireStatus(t, err, errutil.StatusBadRequest)
}
