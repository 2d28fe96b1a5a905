package reward

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ENUM-LIKE constants
type TxType string
type TxStatus string
type InteractionType string
type ClaimKind string

const (
	TxTypeAdView        TxType = "AD_VIEW"
	TxTypeAdEngagement  TxType = "AD_ENGAGEMENT"
	TxTypeReferralBonus TxType = "REFERRAL_BONUS"
	TxTypeWithdrawal    TxType = "WITHDRAWAL"
	TxTypeAirdrop       TxType = "AIRDROP"
	TxTypeSignupBonus   TxType = "SIGNUP_BONUS"

	TxStatusPending     TxStatus = "PENDING"
	TxStatusConfirmed   TxStatus = "CONFIRMED"
	TxStatusDistributed TxStatus = "DISTRIBUTED"
	TxStatusFailed      TxStatus = "FAILED"

	InteractionLike    InteractionType = "LIKE"
	InteractionComment InteractionType = "COMMENT"
	InteractionShare   InteractionType = "SHARE"
	InteractionView    InteractionType = "VIEW"

	ClaimKindView       ClaimKind = "VIEW"
	ClaimKindEngagement ClaimKind = "ENGAGEMENT"
)

// RewardTransaction is a signed balance movement; the ledger is the single
// source of truth for user balances. Rows are immutable once created except
// for the status / tx-hash / failure-reason transitions driven by the
// withdrawal state machine.
type RewardTransaction struct {
	ID                string         `gorm:"column:id;primaryKey"`
	UserID            string         `gorm:"column:user_id;index;not null"`
	Type              TxType         `gorm:"column:type;type:varchar(50);not null"`
	Amount            int64          `gorm:"column:amount;not null"`
	Status            TxStatus       `gorm:"column:status;type:varchar(50);not null;default:'PENDING'"`
	RelatedPostID     *string        `gorm:"column:related_post_id;index"`
	RelatedCampaignID *string        `gorm:"column:related_campaign_id;index"`
	SourceUserID      *string        `gorm:"column:source_user_id"`
	ReferralRateBps   int64          `gorm:"column:referral_rate_bps;not null;default:0"`
	OnChainTxHash     *string        `gorm:"column:on_chain_tx_hash"`
	FailureReason     string         `gorm:"column:failure_reason"`
	TransactionCode   string         `gorm:"column:transaction_code"`
	ClaimKey          *string        `gorm:"column:claim_key;uniqueIndex"`
	Metadata          datatypes.JSON `gorm:"column:metadata"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (RewardTransaction) TableName() string { return "reward_transactions" }

// BuildClaimKey produces the value behind the uniqueness constraint that
// arbitrates concurrent duplicate claims. Only AD_VIEW and AD_ENGAGEMENT rows
// carry one; all other types keep it NULL so the index never collides.
func BuildClaimKey(txType TxType, postID, userID string) *string {
	key := fmt.Sprintf("%s:%s:%s", txType, postID, userID)
	return &key
}

// PostInteraction is the proof record backing an engagement claim. The
// composite unique index keeps at most one row per (user, post, type).
type PostInteraction struct {
	ID        string          `gorm:"column:id;primaryKey"`
	UserID    string          `gorm:"column:user_id;not null;uniqueIndex:idx_interaction_user_post_type"`
	PostID    string          `gorm:"column:post_id;not null;uniqueIndex:idx_interaction_user_post_type"`
	Type      InteractionType `gorm:"column:type;type:varchar(50);not null;uniqueIndex:idx_interaction_user_post_type"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (PostInteraction) TableName() string { return "post_interactions" }

// GenerateTransactionCode returns a short human-readable reference stamped on
// every ledger row alongside its snowflake ID.
func GenerateTransactionCode() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3) // 3 bytes = 6 hex chars
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("RT-%s-%s", datePart, randomPart), nil
}
