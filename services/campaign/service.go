package campaign

import (
	"context"

	"tunegrid-rewardplane/pkg/errutil"
	"tunegrid-rewardplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	campaigns repository.Repository[AdCampaign]
	posts     repository.Repository[SponsoredPost]
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

		campaigns: repository.ProvideStore[AdCampaign](p.DB),
		posts:     repository.ProvideStore[SponsoredPost](p.DB),
	}
}

func (s *Service) GetCampaign(ctx context.Context, campaignID string) (*AdCampaign, error) {
	camp, err := s.campaigns.FindOne(ctx, &AdCampaign{ID: campaignID})
	if err != nil {
		return nil, err
	}
	if camp == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return camp, nil
}

func (s *Service) GetPost(ctx context.Context, postID string) (*SponsoredPost, error) {
	post, err := s.posts.FindOne(ctx, &SponsoredPost{ID: postID})
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, errutil.NotFound("post not found", nil)
	}
	return post, nil
}
