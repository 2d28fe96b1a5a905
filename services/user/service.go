package user

import (
	"context"
	"errors"
	"time"

	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		users: repository.ProvideStore[User](p.DB),
	}
}

type CreateUserInput struct {
	Handle        string  `json:"handle"`
	WalletAddress *string `json:"wallet_address"`
	ReferredByID  *string `json:"referred_by_id"`
}

// CreateUser registers an account. The referrer link is validated at signup
// and never re-checked afterwards; a later-deleted referrer just stops
// earning cascade bonuses.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if in.Handle == "" {
		return nil, errutil.ValidationFailed("handle is required", nil)
	}

	if in.ReferredByID != nil && *in.ReferredByID != "" {
		referrer, err := s.users.FindOne(ctx, &User{ID: *in.ReferredByID})
		if err != nil {
			return nil, err
		}
		if referrer == nil {
			return nil, errutil.ValidationFailed("referrer not found", nil)
		}
	} else {
		in.ReferredByID = nil
	}

	u := &User{
		ID:            s.node.Generate().String(),
		Handle:        in.Handle,
		WalletAddress: in.WalletAddress,
		ReferredByID:  in.ReferredByID,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("handle already taken", nil)
		}
		return nil, err
	}

	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	u, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// SetWallet binds or replaces the settlement wallet address.
func (s *Service) SetWallet(ctx context.Context, userID, walletAddress string) error {
	if walletAddress == "" {
		return errutil.ValidationFailed("wallet address is required", nil)
	}

	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"wallet_address": walletAddress,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found", nil)
	}
	return nil
}

var Module = fx.Module("user.service",
	fx.Provide(
		NewService,
	),
)
