package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tunegrid-rewardplane/pkg/chain"
	"tunegrid-rewardplane/pkg/config"
	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/pkg/repository"
	"tunegrid-rewardplane/pkg/task"
	"tunegrid-rewardplane/services/notification"
	"tunegrid-rewardplane/services/reward"
	"tunegrid-rewardplane/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	adapter  chain.Adapter
	broker   *notification.Broker
	enqueuer task.Enqueuer

	users        repository.Repository[user.User]
	transactions repository.Repository[reward.RewardTransaction]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Cfg      *config.Config
	Adapter  chain.Adapter
	Broker   *notification.Broker
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Cfg,
		adapter:  p.Adapter,
		broker:   p.Broker,
		enqueuer: p.Enqueuer,

		users:        repository.ProvideStore[user.User](p.DB),
		transactions: repository.ProvideStore[reward.RewardTransaction](p.DB),
	}
}

// RequestWithdrawal debits the user's off-chain balance and, when on-chain
// settlement is enabled, transfers the tokens immediately. The debit and the
// ledger row commit before the transfer runs; a failed transfer triggers the
// compensating refund and re-surfaces as a retryable error. With settlement
// disabled the row stays CONFIRMED and waits for batch distribution.
func (s *Service) RequestWithdrawal(ctx context.Context, userID string, amount int64, walletOverride string) (*reward.RewardTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
	)

	if amount < s.cfg.Rewards.MinWithdrawal {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("withdrawal amount below minimum of %d", s.cfg.Rewards.MinWithdrawal), nil)
	}
	if amount > s.cfg.Rewards.MaxWithdrawal {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("withdrawal amount above maximum of %d", s.cfg.Rewards.MaxWithdrawal), nil)
	}

	u, err := s.users.FindOne(ctx, &user.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	// Wallet resolution happens before any money moves, even when settlement
	// is disabled: a queued withdrawal with no destination could only ever
	// fail at batch time.
	wallet := walletOverride
	if wallet == "" && u.WalletAddress != nil {
		wallet = *u.WalletAddress
	}
	if wallet == "" {
		return nil, errutil.ValidationFailed("link a wallet first", nil)
	}

	code, err := reward.GenerateTransactionCode()
	if err != nil {
		return nil, err
	}

	entry := &reward.RewardTransaction{
		ID:              s.node.Generate().String(),
		UserID:          userID,
		Type:            reward.TxTypeWithdrawal,
		Amount:          -amount,
		Status:          reward.TxStatusPending,
		TransactionCode: code,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.debitBalance(ctx, tx, userID, amount); err != nil {
			return err
		}
		return s.transactions.WithTrx(tx).Create(ctx, entry)
	}); err != nil {
		return nil, err
	}

	if !s.adapter.Enabled() {
		if err := s.markConfirmed(ctx, entry); err != nil {
			return nil, err
		}
		s.broker.Publish(notification.Event{
			Type:   notification.EventWithdrawalQueued,
			UserID: userID,
			Data:   map[string]any{"transaction_id": entry.ID, "amount": amount},
		})
		zapLog.Info("withdrawal queued for batch distribution", zap.String("transaction_id", entry.ID))
		return entry, nil
	}

	receipt, err := s.adapter.Transfer(ctx, wallet, chain.MinorUnitsToTokens(amount))
	if err != nil {
		zapLog.Warn("on-chain transfer failed, refunding", zap.String("transaction_id", entry.ID), zap.Error(err))
		if refundErr := s.refund(ctx, entry, amount, err.Error()); refundErr != nil {
			zapLog.Error("compensating refund failed", zap.String("transaction_id", entry.ID), zap.Error(refundErr))
			return nil, refundErr
		}
		s.broker.Publish(notification.Event{
			Type:   notification.EventWithdrawalFailed,
			UserID: userID,
			Data:   map[string]any{"transaction_id": entry.ID, "amount": amount, "reason": err.Error()},
		})
		if errors.Is(err, chain.ErrInsufficientOperatorFunds) {
			return nil, errutil.BadGateway("settlement temporarily unavailable", err)
		}
		return nil, errutil.BadGateway("on-chain transfer failed", err)
	}

	if err := s.markDistributed(ctx, entry, receipt); err != nil {
		return nil, err
	}
	s.notifySettled(entry, amount, receipt)
	zapLog.Info("withdrawal settled", zap.String("transaction_id", entry.ID), zap.String("tx_hash", receipt.TxHash))
	return entry, nil
}

// notifySettled pushes the live event and queues the durable copy. Neither
// failure path can roll back an already-settled withdrawal.
func (s *Service) notifySettled(entry *reward.RewardTransaction, amount int64, receipt *chain.Receipt) {
	s.broker.Publish(notification.Event{
		Type:   notification.EventWithdrawalSettled,
		UserID: entry.UserID,
		Data: map[string]any{
			"transaction_id": entry.ID,
			"amount":         amount,
			"tx_hash":        receipt.TxHash,
			"explorer_url":   receipt.ExplorerURL,
		},
	})

	if s.enqueuer == nil {
		return
	}
	t, err := NewNotifySettledTask(NotifySettledPayload{
		UserID:        entry.UserID,
		TransactionID: entry.ID,
		TxHash:        receipt.TxHash,
		Amount:        amount,
	})
	if err == nil {
		_, err = s.enqueuer.Enqueue(t)
	}
	if err != nil {
		zap.L().Warn("settlement notice not queued", zap.String("transaction_id", entry.ID), zap.Error(err))
	}
}

// DistributeResult is the per-row outcome of a batch distribution run.
type DistributeResult struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Status        reward.TxStatus `json:"status"`
	TxHash        string          `json:"tx_hash,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// DistributeSummary reports the outcome of one batch distribution run.
type DistributeSummary struct {
	Processed int                `json:"processed"`
	Settled   int                `json:"settled"`
	Failed    int                `json:"failed"`
	Results   []DistributeResult `json:"results"`
}

// DistributeRewards settles queued (CONFIRMED) withdrawals in batches. Rows
// are isolated: one bad wallet or failed transfer refunds that row and the
// loop keeps going. Every processed row ends DISTRIBUTED or FAILED, never
// half-settled.
func (s *Service) DistributeRewards(ctx context.Context) (*DistributeSummary, error) {
	if !s.adapter.Enabled() {
		return nil, errutil.UnprocessableEntity("on-chain settlement is not enabled", nil)
	}

	batchSize := s.cfg.Rewards.DistributeBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	var pending []*reward.RewardTransaction
	if err := s.db.WithContext(ctx).
		Where("type = ? AND status = ?", reward.TxTypeWithdrawal, reward.TxStatusConfirmed).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&pending).Error; err != nil {
		return nil, err
	}

	summary := &DistributeSummary{}
	for _, entry := range pending {
		summary.Processed++

		amount := -entry.Amount
		u, err := s.users.FindOne(ctx, &user.User{ID: entry.UserID})
		if err != nil {
			return summary, err
		}

		if u == nil || u.WalletAddress == nil || *u.WalletAddress == "" {
			if err := s.refund(ctx, entry, amount, "no wallet address on file"); err != nil {
				return summary, err
			}
			summary.Failed++
			summary.Results = append(summary.Results, DistributeResult{
				TransactionID: entry.ID,
				UserID:        entry.UserID,
				Status:        reward.TxStatusFailed,
				Reason:        "no wallet address on file",
			})
			s.broker.Publish(notification.Event{
				Type:   notification.EventWithdrawalFailed,
				UserID: entry.UserID,
				Data:   map[string]any{"transaction_id": entry.ID, "amount": amount, "reason": "no wallet address on file"},
			})
			continue
		}

		receipt, err := s.adapter.Transfer(ctx, *u.WalletAddress, chain.MinorUnitsToTokens(amount))
		if err != nil {
			if refundErr := s.refund(ctx, entry, amount, err.Error()); refundErr != nil {
				return summary, refundErr
			}
			summary.Failed++
			summary.Results = append(summary.Results, DistributeResult{
				TransactionID: entry.ID,
				UserID:        entry.UserID,
				Status:        reward.TxStatusFailed,
				Reason:        err.Error(),
			})
			s.broker.Publish(notification.Event{
				Type:   notification.EventWithdrawalFailed,
				UserID: entry.UserID,
				Data:   map[string]any{"transaction_id": entry.ID, "amount": amount, "reason": err.Error()},
			})
			continue
		}

		if err := s.markDistributed(ctx, entry, receipt); err != nil {
			return summary, err
		}
		summary.Settled++
		summary.Results = append(summary.Results, DistributeResult{
			TransactionID: entry.ID,
			UserID:        entry.UserID,
			Status:        reward.TxStatusDistributed,
			TxHash:        receipt.TxHash,
		})
		s.notifySettled(entry, amount, receipt)
	}

	return summary, nil
}

// debitBalance removes the withdrawal amount with the balance bound re-checked
// in the WHERE clause, so concurrent withdrawals can never drive the balance
// negative.
func (s *Service) debitBalance(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	res := tx.WithContext(ctx).Model(&user.User{}).
		Where("id = ? AND off_chain_balance >= ?", userID, amount).
		Updates(map[string]any{
			"off_chain_balance": gorm.Expr("off_chain_balance - ?", amount),
			"total_withdrawn":   gorm.Expr("total_withdrawn + ?", amount),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.InsufficientFunds("balance is insufficient for this withdrawal", nil)
	}
	return nil
}

// refund is the compensating write: the row moves to FAILED and the debited
// amount returns to the user's balance in the same transaction.
func (s *Service) refund(ctx context.Context, entry *reward.RewardTransaction, amount int64, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&reward.RewardTransaction{}).
			Where("id = ? AND status IN ?", entry.ID, []reward.TxStatus{reward.TxStatusPending, reward.TxStatusConfirmed}).
			Updates(map[string]any{
				"status":         reward.TxStatusFailed,
				"failure_reason": reason,
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("withdrawal is no longer refundable", nil)
		}

		if err := tx.Model(&user.User{}).
			Where("id = ?", entry.UserID).
			Updates(map[string]any{
				"off_chain_balance": gorm.Expr("off_chain_balance + ?", amount),
				"total_withdrawn":   gorm.Expr("total_withdrawn - ?", amount),
				"updated_at":        time.Now(),
			}).Error; err != nil {
			return err
		}

		entry.Status = reward.TxStatusFailed
		entry.FailureReason = reason
		return nil
	})
}

func (s *Service) markConfirmed(ctx context.Context, entry *reward.RewardTransaction) error {
	res := s.db.WithContext(ctx).Model(&reward.RewardTransaction{}).
		Where("id = ? AND status = ?", entry.ID, reward.TxStatusPending).
		Update("status", reward.TxStatusConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("withdrawal already finalized", nil)
	}
	entry.Status = reward.TxStatusConfirmed
	return nil
}

func (s *Service) markDistributed(ctx context.Context, entry *reward.RewardTransaction, receipt *chain.Receipt) error {
	res := s.db.WithContext(ctx).Model(&reward.RewardTransaction{}).
		Where("id = ? AND status IN ?", entry.ID, []reward.TxStatus{reward.TxStatusPending, reward.TxStatusConfirmed}).
		Updates(map[string]any{
			"status":           reward.TxStatusDistributed,
			"on_chain_tx_hash": receipt.TxHash,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("withdrawal already finalized", nil)
	}
	entry.Status = reward.TxStatusDistributed
	entry.OnChainTxHash = &receipt.TxHash
	return nil
}
