package di

import (
	"context"
	"log"
	"time"

	"medichat/internal/chat/handler"
	"medichat/internal/config"
	"medichat/internal/dbmongo"
	"medichat/internal/notif"
)

// Application bundles everything the server binary needs.
type Application struct {
	Config       *config.Config
	Mongo        *dbmongo.MongoClient
	Hub          *notif.Hub
	ChatHandler  *handler.ChatHandler
	NotifHandler *notif.Handler
}

func ProvideMongoConnection(cfg *config.Config) (*dbmongo.MongoClient, func(), error) {
	mc, err := dbmongo.NewMongoConnection(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Close(ctx); err != nil {
			log.Printf("failed to close mongo connection: %v", err)
		}
	}
	return mc, cleanup, nil
}
