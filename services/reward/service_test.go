package reward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"tunegrid-rewardplane/pkg/config"
	"tunegrid-rewardplane/pkg/db/pagination"
	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/services/campaign"
	"tunegrid-rewardplane/services/testutil"
	"tunegrid-rewardplane/services/user"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewTestDB(t,
		&user.User{},
		&campaign.AdCampaign{},
		&campaign.SponsoredPost{},
		&RewardTransaction{},
		&PostInteraction{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Rewards.MinViewSeconds = 5
	cfg.Rewards.SignupBonus = 500

	svc := NewService(ServiceParams{
		DB:         db,
		Node:       node,
		Cfg:        cfg,
		Accountant: campaign.NewAccountant(),
	})
	return svc, db
}

func seedUser(t *testing.T, db *gorm.DB, id, handle string, balance int64, referredBy *string) *user.User {
	t.Helper()
	u := &user.User{
		ID:              id,
		Handle:          handle,
		OffChainBalance: balance,
		TotalEarned:     balance,
		ReferredByID:    referredBy,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedCampaign(t *testing.T, db *gorm.DB, id string, poolTotal, impressions int64) *campaign.AdCampaign {
	t.Helper()
	c := &campaign.AdCampaign{
		ID:               id,
		AdvertiserID:     "advertiser",
		Name:             "test campaign",
		Status:           campaign.CampaignStatusActive,
		RewardPoolTotal:  poolTotal,
		ImpressionsTotal: impressions,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func seedPost(t *testing.T, db *gorm.DB, id, authorID, campaignID string, perView, perEngagement int64, age time.Duration) *campaign.SponsoredPost {
	t.Helper()
	p := &campaign.SponsoredPost{
		ID:                  id,
		AuthorID:            authorID,
		AdCampaignID:        campaignID,
		Type:                campaign.PostTypeSponsored,
		RewardPerView:       perView,
		RewardPerEngagement: perEngagement,
		CreatedAt:           time.Now().Add(-age),
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "error is %v", err)
	require.Equal(t, want, be.Status())
}

func TestClaimViewSuccess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	entry, err := svc.Claim(ctx, "viewer", "post", ClaimKindView)
	require.NoError(t, err)
	require.Equal(t, TxTypeAdView, entry.Type)
	require.Equal(t, int64(10), entry.Amount)
	require.Equal(t, TxStatusPending, entry.Status)
	require.NotNil(t, entry.ClaimKey)
	require.NotEmpty(t, entry.TransactionCode)

	var viewer user.User
	require.NoError(t, db.First(&viewer, "id = ?", "viewer").Error)
	require.Equal(t, int64(10), viewer.OffChainBalance)
	require.Equal(t, int64(10), viewer.TotalEarned)

	var camp campaign.AdCampaign
	require.NoError(t, db.First(&camp, "id = ?", "camp").Error)
	require.Equal(t, int64(10), camp.RewardPoolDistributed)
	require.Equal(t, int64(1), camp.ImpressionsDelivered)

	var post campaign.SponsoredPost
	require.NoError(t, db.First(&post, "id = ?", "post").Error)
	require.Equal(t, int64(1), post.ViewsCount)

	var interactions int64
	require.NoError(t, db.Model(&PostInteraction{}).
		Where("user_id = ? AND post_id = ? AND type = ?", "viewer", "post", InteractionView).
		Count(&interactions).Error)
	require.Equal(t, int64(1), interactions)
}

func TestClaimDuplicateIsConflict(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	_, err := svc.Claim(ctx, "viewer", "post", ClaimKindView)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "viewer", "post", ClaimKindView)
	requireStatus(t, err, errutil.StatusConflict)

	// A second failed attempt must not move the balance or the pool.
	var viewer user.User
	require.NoError(t, db.First(&viewer, "id = ?", "viewer").Error)
	require.Equal(t, int64(10), viewer.OffChainBalance)

	var camp campaign.AdCampaign
	require.NoError(t, db.First(&camp, "id = ?", "camp").Error)
	require.Equal(t, int64(10), camp.RewardPoolDistributed)
}

func TestClaimConcurrentDuplicate(t *testing.T) {
	svc, db := newTestService(t)

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	var g errgroup.Group
	results := make([]error, 4)
	for i := 0; i < 4; i++ {
		i := i
		g.Go(func() error {
			_, err := svc.Claim(context.Background(), "viewer", "post", ClaimKindView)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, conflicted int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var be errutil.BaseError
		require.True(t, errors.As(err, &be))
		require.Equal(t, errutil.StatusConflict, be.Status())
		conflicted++
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 3, conflicted)

	var viewer user.User
	require.NoError(t, db.First(&viewer, "id = ?", "viewer").Error)
	require.Equal(t, int64(10), viewer.OffChainBalance)
}

func TestClaimConcurrentPoolRace(t *testing.T) {
	svc, db := newTestService(t)

	// Pool pays exactly five 1-unit views; eight distinct users race it.
	seedUser(t, db, "author", "author", 0, nil)
	const racers = 8
	for i := 0; i < racers; i++ {
		id := "viewer-" + string(rune('a'+i))
		seedUser(t, db, id, id, 0, nil)
	}
	seedCampaign(t, db, "camp", 5, 1000)
	seedPost(t, db, "post", "author", "camp", 1, 1, time.Minute)

	var g errgroup.Group
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		i := i
		g.Go(func() error {
			id := "viewer-" + string(rune('a'+i))
			_, err := svc.Claim(context.Background(), id, "post", ClaimKindView)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, exhausted int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var be errutil.BaseError
		require.True(t, errors.As(err, &be), "error is %v", err)
		require.Equal(t, errutil.StatusResourceExhausted, be.Status())
		exhausted++
	}
	require.Equal(t, 5, succeeded)
	require.Equal(t, 3, exhausted)

	// The pool never over-distributes: the bound is re-checked in the same
	// statement as the increment.
	var camp campaign.AdCampaign
	require.NoError(t, db.First(&camp, "id = ?", "camp").Error)
	require.Equal(t, camp.RewardPoolTotal, camp.RewardPoolDistributed)
	require.Equal(t, int64(5), camp.ImpressionsDelivered)

	// Rejected claims leave no ledger rows behind.
	var rows int64
	require.NoError(t, db.Model(&RewardTransaction{}).
		Where("type = ?", TxTypeAdView).Count(&rows).Error)
	require.Equal(t, int64(5), rows)
}

func TestClaimOwnPostForbidden(t *testing.T) {
	svc, db := newTestService(t)

	seedUser(t, db, "author", "author", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	_, err := svc.Claim(context.Background(), "author", "post", ClaimKindView)
	requireStatus(t, err, errutil.StatusForbidden)
}

func TestClaimTooSoonAfterPublish(t *testing.T) {
	svc, db := newTestService(t)

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 10, 3, 0)

	_, err := svc.Claim(context.Background(), "viewer", "post", ClaimKindView)
	requireStatus(t, err, errutil.StatusTooManyRequests)
}

func TestClaimPoolExhausted(t *testing.T) {
	svc, db := newTestService(t)

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	camp := seedCampaign(t, db, "camp", 100, 100)
	camp.RewardPoolDistributed = 95
	require.NoError(t, db.Save(camp).Error)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	// 5 remaining cannot pay a 10 unit claim; there is no partial fill.
	_, err := svc.Claim(context.Background(), "viewer", "post", ClaimKindView)
	requireStatus(t, err, errutil.StatusResourceExhausted)

	var after campaign.AdCampaign
	require.NoError(t, db.First(&after, "id = ?", "camp").Error)
	require.Equal(t, int64(95), after.RewardPoolDistributed)
}

func TestClaimImpressionCapReached(t *testing.T) {
	svc, db := newTestService(t)

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	camp := seedCampaign(t, db, "camp", 10_000, 10)
	camp.ImpressionsDelivered = 10
	require.NoError(t, db.Save(camp).Error)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	_, err := svc.Claim(context.Background(), "viewer", "post", ClaimKindView)
	requireStatus(t, err, errutil.StatusResourceExhausted)
}

func TestClaimInactiveCampaign(t *testing.T) {
	svc, db := newTestService(t)

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	camp := seedCampaign(t, db, "camp", 10_000, 100)
	camp.Status = campaign.CampaignStatusPaused
	require.NoError(t, db.Save(camp).Error)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	_, err := svc.Claim(context.Background(), "viewer", "post", ClaimKindView)
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestClaimEngagementRequiresInteraction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedUser(t, db, "author", "author", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 10, 3, time.Minute)

	_, err := svc.Claim(ctx, "viewer", "post", ClaimKindEngagement)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)

	require.NoError(t, db.Create(&PostInteraction{
		ID:     "int-1",
		UserID: "viewer",
		PostID: "post",
		Type:   InteractionLike,
	}).Error)

	entry, err := svc.Claim(ctx, "viewer", "post", ClaimKindEngagement)
	require.NoError(t, err)
	require.Equal(t, TxTypeAdEngagement, entry.Type)
	require.Equal(t, int64(3), entry.Amount)

	// Engagement claims do not count against the impression cap.
	var camp campaign.AdCampaign
	require.NoError(t, db.First(&camp, "id = ?", "camp").Error)
	require.Equal(t, int64(0), camp.ImpressionsDelivered)
	require.Equal(t, int64(3), camp.RewardPoolDistributed)
}

func TestClaimReferralSingleHop(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	grand := seedUser(t, db, "grand", "grand", 0, nil)
	referrer := seedUser(t, db, "referrer", "referrer", 0, &grand.ID)
	seedUser(t, db, "viewer", "viewer", 0, &referrer.ID)
	seedUser(t, db, "author", "author", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 100, 30, time.Minute)

	_, err := svc.Claim(ctx, "viewer", "post", ClaimKindView)
	require.NoError(t, err)

	// BRONZE referrer earns 5% of 100.
	var ref user.User
	require.NoError(t, db.First(&ref, "id = ?", "referrer").Error)
	require.Equal(t, int64(5), ref.OffChainBalance)

	var bonus RewardTransaction
	require.NoError(t, db.First(&bonus, "user_id = ? AND type = ?", "referrer", TxTypeReferralBonus).Error)
	require.Equal(t, int64(5), bonus.Amount)
	require.Equal(t, int64(500), bonus.ReferralRateBps)
	require.NotNil(t, bonus.SourceUserID)
	require.Equal(t, "viewer", *bonus.SourceUserID)

	// The cascade stops after one hop: the referrer's own referrer earns
	// nothing from this claim.
	var g user.User
	require.NoError(t, db.First(&g, "id = ?", "grand").Error)
	require.Equal(t, int64(0), g.OffChainBalance)

	var grandBonuses int64
	require.NoError(t, db.Model(&RewardTransaction{}).
		Where("user_id = ?", "grand").Count(&grandBonuses).Error)
	require.Equal(t, int64(0), grandBonuses)
}

func TestClaimReferralTierRate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	referrer := seedUser(t, db, "referrer", "referrer", 0, nil)
	seedUser(t, db, "viewer", "viewer-0", 0, &referrer.ID)
	for i := 1; i < 10; i++ {
		seedUser(t, db, "referee-"+string(rune('a'+i)), "referee-"+string(rune('a'+i)), 0, &referrer.ID)
	}
	seedUser(t, db, "author", "author", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 100, 30, time.Minute)

	_, err := svc.Claim(ctx, "viewer", "post", ClaimKindView)
	require.NoError(t, err)

	// Ten referees puts the referrer in SILVER (750 bps): 100 * 750 / 10000 = 7.
	var bonus RewardTransaction
	require.NoError(t, db.First(&bonus, "user_id = ? AND type = ?", "referrer", TxTypeReferralBonus).Error)
	require.Equal(t, int64(7), bonus.Amount)
	require.Equal(t, int64(750), bonus.ReferralRateBps)
}

func TestClaimReferralZeroBonusSkipped(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	referrer := seedUser(t, db, "referrer", "referrer", 0, nil)
	seedUser(t, db, "viewer", "viewer", 0, &referrer.ID)
	seedUser(t, db, "author", "author", 0, nil)
	seedCampaign(t, db, "camp", 10_000, 100)
	seedPost(t, db, "post", "author", "camp", 1, 1, time.Minute)

	_, err := svc.Claim(ctx, "viewer", "post", ClaimKindView)
	require.NoError(t, err)

	// 1 * 500 / 10000 truncates to zero; no bonus row is written.
	var bonuses int64
	require.NoError(t, db.Model(&RewardTransaction{}).
		Where("type = ?", TxTypeReferralBonus).Count(&bonuses).Error)
	require.Equal(t, int64(0), bonuses)
}

func TestClaimUnknownPost(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "viewer", "viewer", 0, nil)

	_, err := svc.Claim(context.Background(), "viewer", "missing", ClaimKindView)
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestSignupBonusIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedUser(t, db, "newbie", "newbie", 0, nil)

	entry, err := svc.SignupBonus(ctx, "newbie")
	require.NoError(t, err)
	require.Equal(t, TxTypeSignupBonus, entry.Type)
	require.Equal(t, int64(500), entry.Amount)

	_, err = svc.SignupBonus(ctx, "newbie")
	requireStatus(t, err, errutil.StatusConflict)

	var u user.User
	require.NoError(t, db.First(&u, "id = ?", "newbie").Error)
	require.Equal(t, int64(500), u.OffChainBalance)
}

func TestAirdrop(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedUser(t, db, "target", "target", 100, nil)

	entry, err := svc.Airdrop(ctx, "target", 2500, "launch promo")
	require.NoError(t, err)
	require.Equal(t, TxTypeAirdrop, entry.Type)
	require.Equal(t, TxStatusConfirmed, entry.Status)

	var u user.User
	require.NoError(t, db.First(&u, "id = ?", "target").Error)
	require.Equal(t, int64(2600), u.OffChainBalance)

	_, err = svc.Airdrop(ctx, "target", 0, "")
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestBalanceUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Balance(context.Background(), "ghost")
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestListTransactionsPagination(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedUser(t, db, "target", "target", 0, nil)
	for i := 0; i < 5; i++ {
		_, err := svc.Airdrop(ctx, "target", int64(100+i), "")
		require.NoError(t, err)
	}

	rows, pageInfo, err := svc.ListTransactions(ctx, "target", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextCursor)

	// Newest first: the last airdrop leads the page.
	require.Equal(t, int64(104), rows[0].Amount)

	next, pageInfo, err := svc.ListTransactions(ctx, "target", pagination.Pagination{Limit: 2, Cursor: pageInfo.NextCursor})
	require.NoError(t, err)
	require.Len(t, next, 2)
	require.True(t, pageInfo.HasMore)
	require.NotEqual(t, rows[0].ID, next[0].ID)

	_, _, err = svc.ListTransactions(ctx, "target", pagination.Pagination{Limit: 2, Cursor: "not-base64"})
	requireStatus(t, err, errutil.StatusBadRequest)
}
