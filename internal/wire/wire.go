//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	chatrepo "amplifi/internal/chat/repository"
	"amplifi/internal/config"
	"amplifi/internal/feed"
	"amplifi/internal/seed"
	"amplifi/internal/user"
)

func InitializeApplication(ctx context.Context, cfg *config.Config) (*Application, func(), error) {
	wire.Build(
		infraSet,
		repositorySet,
		serviceSet,
		handlerSet,
		wire.Struct(new(Application), "*"),
	)
	return nil, nil, nil
}

func InitializeSeeder(ctx context.Context, cfg *config.Config) (*seed.Seeder, func(), error) {
	wire.Build(
		ProvideMySQL,
		user.NewUserRepository,
		feed.NewFeedRepository,
		chatrepo.NewChatRepository,
		ProvideSeeder,
	)
	return nil, nil, nil
}
