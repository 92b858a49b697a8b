//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"medichat/internal/chat/handler"
	"medichat/internal/chat/repository"
	"medichat/internal/chat/service"
	"medichat/internal/config"
	"medichat/internal/identity"
	"medichat/internal/notif"
)

// This is just a declaration; wire generates the real body in wire_gen.go.
func InitializeApplication() (*Application, func(), error) {
	wire.Build(
		config.LoadConfig,
		ProvideMongoConnection,
		repository.NewConversationRepository,
		repository.NewMessageRepository,
		identity.NewResolver,
		service.NewChatService,
		notif.NewHub,
		notif.NewHandler,
		handler.NewChatHandler,
		wire.Struct(new(Application), "*"),
	)
	return &Application{}, nil, nil
}
