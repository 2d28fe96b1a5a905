package httpapi

import (
	"io"
	"net/http"

	"tunegrid-rewardplane/pkg/config"
	"tunegrid-rewardplane/pkg/db/pagination"
	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/pkg/middleware"
	"tunegrid-rewardplane/pkg/task"
	"tunegrid-rewardplane/services/campaign"
	"tunegrid-rewardplane/services/notification"
	"tunegrid-rewardplane/services/reward"
	"tunegrid-rewardplane/services/user"
	"tunegrid-rewardplane/services/withdrawal"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handler struct {
	cfg         *config.Config
	node        *snowflake.Node
	users       *user.Service
	rewards     *reward.Service
	withdrawals *withdrawal.Service
	campaigns   *campaign.Service
	broker      *notification.Broker
	enqueuer    task.Enqueuer
}

type HandlerParams struct {
	fx.In
	Cfg         *config.Config
	Node        *snowflake.Node
	Users       *user.Service
	Rewards     *reward.Service
	Withdrawals *withdrawal.Service
	Campaigns   *campaign.Service
	Broker      *notification.Broker
	Enqueuer    task.Enqueuer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		cfg:         p.Cfg,
		node:        p.Node,
		users:       p.Users,
		rewards:     p.Rewards,
		withdrawals: p.Withdrawals,
		campaigns:   p.Campaigns,
		broker:      p.Broker,
		enqueuer:    p.Enqueuer,
	}
}

// ProvideRouter wires the REST surface onto a gin engine.
func ProvideRouter(h *Handler) http.Handler {
	if h.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/users", h.createUser)
		v1.PUT("/users/:id/wallet", h.setWallet)
		v1.GET("/users/:id/balance", h.balance)
		v1.GET("/users/:id/transactions", h.listTransactions)
		v1.GET("/users/:id/events", h.streamEvents)

		v1.POST("/posts/:id/claims", h.claim)

		v1.POST("/withdrawals", h.requestWithdrawal)

		v1.POST("/webhooks/checkout-completed", h.checkoutCompleted)

		admin := v1.Group("/admin")
		{
			admin.POST("/airdrops", h.airdrop)
			admin.POST("/withdrawals/distribute", h.distribute)
		}
	}

	return r
}

func (h *Handler) createUser(c *gin.Context) {
	var in user.CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	u, err := h.users.CreateUser(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}

	// A failed bonus grant must not roll back the registration.
	if _, err := h.rewards.SignupBonus(c.Request.Context(), u.ID); err != nil {
		zap.L().Warn("signup bonus not granted", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		refreshed, err := h.users.GetUser(c.Request.Context(), u.ID)
		if err == nil {
			u = refreshed
		}
	}

	c.JSON(http.StatusCreated, u)
}

func (h *Handler) setWallet(c *gin.Context) {
	var body struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	if err := h.users.SetWallet(c.Request.Context(), c.Param("id"), body.WalletAddress); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) balance(c *gin.Context) {
	u, err := h.rewards.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":           u.ID,
		"off_chain_balance": u.OffChainBalance,
		"total_earned":      u.TotalEarned,
		"total_withdrawn":   u.TotalWithdrawn,
	})
}

func (h *Handler) listTransactions(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, pageInfo, err := h.rewards.ListTransactions(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": rows,
		"page_info":    pageInfo,
	})
}

func (h *Handler) claim(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id"`
		Kind   string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := h.rewards.Claim(c.Request.Context(), body.UserID, c.Param("id"), reward.ClaimKind(body.Kind))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) requestWithdrawal(c *gin.Context) {
	var body struct {
		UserID        string `json:"user_id"`
		Amount        int64  `json:"amount"`
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), body.UserID, body.Amount, body.WalletAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) checkoutCompleted(c *gin.Context) {
	var evt campaign.CheckoutCompletedEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	camp, err := h.campaigns.Activate(c.Request.Context(), evt)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, camp)
}

func (h *Handler) airdrop(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := h.rewards.Airdrop(c.Request.Context(), body.UserID, body.Amount, body.Note)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) distribute(c *gin.Context) {
	info, err := h.enqueuer.Enqueue(withdrawal.NewDistributeTask())
	if err != nil {
		_ = c.Error(errutil.Internal("failed to enqueue distribution", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
}

func (h *Handler) streamEvents(c *gin.Context) {
	userID := c.Param("id")
	connID := h.node.Generate().String()

	ch := h.broker.Subscribe(userID, connID)
	defer h.broker.Unsubscribe(userID, connID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		ProvideRouter,
	),
)
