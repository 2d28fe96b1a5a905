package withdrawal

import (
	"context"
	"encoding/json"

	"tunegrid-rewardplane/pkg/taskname"
	"tunegrid-rewardplane/services/notification"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NotifySettledPayload travels on the notify:withdrawal:settled queue so that
// settlement notifications survive a worker restart.
type NotifySettledPayload struct {
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	TxHash        string `json:"tx_hash"`
	Amount        int64  `json:"amount"`
}

// NewDistributeTask builds the periodic batch-distribution task.
func NewDistributeTask() *asynq.Task {
	return asynq.NewTask(taskname.WithdrawalDistribute, nil, asynq.Queue("critical"), asynq.MaxRetry(3))
}

func NewNotifySettledTask(p NotifySettledPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.NotifyWithdrawalSettled, payload, asynq.Queue("default")), nil
}

type TaskHandler struct {
	svc    *Service
	broker *notification.Broker
}

type TaskHandlerParams struct {
	fx.In
	Svc    *Service
	Broker *notification.Broker
}

func NewTaskHandler(p TaskHandlerParams) *TaskHandler {
	return &TaskHandler{svc: p.Svc, broker: p.Broker}
}

// RegisterTaskHandlers binds the withdrawal queues onto the worker mux.
func RegisterTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(taskname.WithdrawalDistribute, h.HandleDistribute)
	mux.HandleFunc(taskname.NotifyWithdrawalSettled, h.HandleNotifySettled)
}

func (h *TaskHandler) HandleDistribute(ctx context.Context, t *asynq.Task) error {
	summary, err := h.svc.DistributeRewards(ctx)
	if err != nil {
		zap.L().Error("batch distribution failed", zap.Error(err))
		return err
	}

	zap.L().Info("batch distribution completed",
		zap.Int("processed", summary.Processed),
		zap.Int("settled", summary.Settled),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

func (h *TaskHandler) HandleNotifySettled(ctx context.Context, t *asynq.Task) error {
	var p NotifySettledPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	h.broker.Publish(notification.Event{
		Type:   notification.EventWithdrawalSettled,
		UserID: p.UserID,
		Data: map[string]any{
			"transaction_id": p.TransactionID,
			"amount":         p.Amount,
			"tx_hash":        p.TxHash,
		},
	})
	return nil
}
