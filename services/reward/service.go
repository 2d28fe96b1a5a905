package reward

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tunegrid-rewardplane/pkg/config"
	"tunegrid-rewardplane/pkg/db/option"
	"tunegrid-rewardplane/pkg/db/pagination"
	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/pkg/repository"
	"tunegrid-rewardplane/services/campaign"
	"tunegrid-rewardplane/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var engagementTypes = []InteractionType{InteractionLike, InteractionComment, InteractionShare}

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	cfg        *config.Config
	accountant *campaign.Accountant

	users        repository.Repository[user.User]
	transactions repository.Repository[RewardTransaction]
	posts        repository.Repository[campaign.SponsoredPost]
	campaigns    repository.Repository[campaign.AdCampaign]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Cfg        *config.Config
	Accountant *campaign.Accountant
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		cfg:        p.Cfg,
		accountant: p.Accountant,

		users:        repository.ProvideStore[user.User](p.DB),
		transactions: repository.ProvideStore[RewardTransaction](p.DB),
		posts:        repository.ProvideStore[campaign.SponsoredPost](p.DB),
		campaigns:    repository.ProvideStore[campaign.AdCampaign](p.DB),
	}
}

// Claim credits a user for viewing or engaging with a sponsored post. All
// eligibility checks run first (first failure wins); the ledger row, balance
// mutation, pool consumption, interaction proof and referral cascade then
// commit as one transaction. The duplicate fast-path check below is an
// optimization only: the claim_key unique index arbitrates concurrent
// duplicates, and its violation surfaces as Conflict.
func (s *Service) Claim(ctx context.Context, userID, postID string, kind ClaimKind) (*RewardTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
		zap.String("post_id", postID),
		zap.String("kind", string(kind)),
	)

	if kind != ClaimKindView && kind != ClaimKindEngagement {
		return nil, errutil.BadRequest("unsupported claim kind", nil)
	}

	post, err := s.posts.FindOne(ctx, &campaign.SponsoredPost{ID: postID})
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, errutil.NotFound("post not found", nil)
	}
	if post.Type != campaign.PostTypeSponsored {
		return nil, errutil.BadRequest("post is not sponsored", nil)
	}

	camp, err := s.campaigns.FindOne(ctx, &campaign.AdCampaign{ID: post.AdCampaignID})
	if err != nil {
		return nil, err
	}
	if camp == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	if !camp.IsActive() {
		return nil, errutil.BadRequest("campaign is not active", nil)
	}

	if post.AuthorID == userID {
		return nil, errutil.Forbidden("cannot claim rewards on your own post", nil)
	}

	minDwell := time.Duration(s.cfg.Rewards.MinViewSeconds) * time.Second
	if time.Since(post.CreatedAt) < minDwell {
		return nil, errutil.TooManyRequest("claim registered too quickly", nil)
	}

	var txType TxType
	var amount int64
	if kind == ClaimKindView {
		txType = TxTypeAdView
		amount = post.RewardPerView
	} else {
		txType = TxTypeAdEngagement
		amount = post.RewardPerEngagement
	}

	if err := s.accountant.CheckCapacity(camp, amount, kind == ClaimKindView); err != nil {
		return nil, err
	}

	claimKey := BuildClaimKey(txType, postID, userID)
	if existing, err := s.transactions.FindOne(ctx, &RewardTransaction{ClaimKey: claimKey}); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errutil.Conflict("reward already claimed for this post", nil)
	}

	if kind == ClaimKindEngagement {
		var engaged int64
		if err := s.db.WithContext(ctx).Model(&PostInteraction{}).
			Where("user_id = ? AND post_id = ? AND type IN ?", userID, postID, engagementTypes).
			Count(&engaged).Error; err != nil {
			return nil, err
		}
		if engaged == 0 {
			return nil, errutil.UnprocessableEntity("must engage with the post before claiming", nil)
		}
	}

	if amount <= 0 {
		return nil, errutil.BadRequest("no reward configured for this post", nil)
	}

	claimant, err := s.users.FindOne(ctx, &user.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if claimant == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		return nil, err
	}

	entry := &RewardTransaction{
		ID:                s.node.Generate().String(),
		UserID:            userID,
		Type:              txType,
		Amount:            amount,
		Status:            TxStatusPending,
		RelatedPostID:     &post.ID,
		RelatedCampaignID: &camp.ID,
		TransactionCode:   code,
		ClaimKey:          claimKey,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("reward already claimed for this post", nil)
			}
			return err
		}

		if err := s.accountant.Consume(ctx, tx, camp.ID, amount, kind == ClaimKindView); err != nil {
			return err
		}

		if err := s.creditUser(ctx, tx, userID, amount); err != nil {
			return err
		}

		if kind == ClaimKindView {
			if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
				Create(&PostInteraction{
					ID:     s.node.Generate().String(),
					UserID: userID,
					PostID: postID,
					Type:   InteractionView,
				}).Error; err != nil {
				return err
			}

			if err := tx.WithContext(ctx).Model(&campaign.SponsoredPost{}).
				Where("id = ?", postID).
				Update("views_count", gorm.Expr("views_count + 1")).Error; err != nil {
				return err
			}
		}

		return s.cascadeReferral(ctx, tx, claimant, entry)
	}); err != nil {
		zapLog.Warn("claim rejected", zap.Error(err))
		return nil, err
	}

	zapLog.Info("claim credited", zap.String("transaction_id", entry.ID), zap.Int64("amount", amount))
	return entry, nil
}

// cascadeReferral credits the claimant's referrer a single-hop bonus inside
// the originating transaction. The referrer's own referrer never receives a
// second-order bonus.
func (s *Service) cascadeReferral(ctx context.Context, tx *gorm.DB, claimant *user.User, origin *RewardTransaction) error {
	if claimant.ReferredByID == nil {
		return nil
	}

	referrer, err := s.users.WithTrx(tx).FindOne(ctx, &user.User{ID: *claimant.ReferredByID})
	if err != nil {
		return err
	}
	if referrer == nil {
		// referred_by_id is a weak back-reference; a vanished referrer
		// silently forfeits the bonus.
		return nil
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&user.User{}).
		Where("referred_by_id = ?", referrer.ID).
		Count(&count).Error; err != nil {
		return err
	}

	tier := LookupTier(count)
	bonus := origin.Amount * tier.RateBps / 10000
	if bonus <= 0 {
		return nil
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		return err
	}

	entry := &RewardTransaction{
		ID:                s.node.Generate().String(),
		UserID:            referrer.ID,
		Type:              TxTypeReferralBonus,
		Amount:            bonus,
		Status:            TxStatusPending,
		RelatedPostID:     origin.RelatedPostID,
		RelatedCampaignID: origin.RelatedCampaignID,
		SourceUserID:      &claimant.ID,
		ReferralRateBps:   tier.RateBps,
		TransactionCode:   code,
	}
	if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
		return err
	}

	return s.creditUser(ctx, tx, referrer.ID, bonus)
}

func (s *Service) creditUser(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	res := tx.WithContext(ctx).Model(&user.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"off_chain_balance": gorm.Expr("off_chain_balance + ?", amount),
			"total_earned":      gorm.Expr("total_earned + ?", amount),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found", nil)
	}
	return nil
}

// Airdrop applies an operator-initiated credit. No referral cascade: only
// primary view/engagement credits trigger one.
func (s *Service) Airdrop(ctx context.Context, userID string, amount int64, note string) (*RewardTransaction, error) {
	if amount <= 0 {
		return nil, errutil.BadRequest("airdrop amount must be positive", nil)
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		return nil, err
	}

	entry := &RewardTransaction{
		ID:              s.node.Generate().String(),
		UserID:          userID,
		Type:            TxTypeAirdrop,
		Amount:          amount,
		Status:          TxStatusConfirmed,
		TransactionCode: code,
	}
	if note != "" {
		meta, err := json.Marshal(map[string]string{"note": note})
		if err != nil {
			return nil, err
		}
		entry.Metadata = meta
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
			return err
		}
		return s.creditUser(ctx, tx, userID, amount)
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

// SignupBonus credits the one-time registration reward. Idempotent per user
// via the same claim_key uniqueness that guards ad claims.
func (s *Service) SignupBonus(ctx context.Context, userID string) (*RewardTransaction, error) {
	amount := s.cfg.Rewards.SignupBonus
	if amount <= 0 {
		return nil, errutil.BadRequest("signup bonus is not configured", nil)
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		return nil, err
	}

	entry := &RewardTransaction{
		ID:              s.node.Generate().String(),
		UserID:          userID,
		Type:            TxTypeSignupBonus,
		Amount:          amount,
		Status:          TxStatusConfirmed,
		TransactionCode: code,
		ClaimKey:        BuildClaimKey(TxTypeSignupBonus, "", userID),
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("signup bonus already granted", nil)
			}
			return err
		}
		return s.creditUser(ctx, tx, userID, amount)
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

// Balance returns the ledger-tracked off-chain balance.
func (s *Service) Balance(ctx context.Context, userID string) (*user.User, error) {
	u, err := s.users.FindOne(ctx, &user.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// ListTransactions pages a user's ledger history, newest first. Snowflake IDs
// are time-ordered, so the cursor rides on the row ID.
func (s *Service) ListTransactions(ctx context.Context, userID string, p pagination.Pagination) ([]*RewardTransaction, *pagination.PageInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}}),
		option.WithLimit(limit + 1),
	}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.LT, Value: cursor.ID}))
	}

	rows, err := s.transactions.Find(ctx, &RewardTransaction{UserID: userID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(limit), func(t *RewardTransaction) string {
		cur, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID})
		return cur
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return rows, pageInfo, nil
}
