package main

import (
	"context"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/internal/api"
	"github.com/jaam8/poll_ledger/internal/config"
	"github.com/jaam8/poll_ledger/internal/repository"
	srv "github.com/jaam8/poll_ledger/internal/service"
	"github.com/jaam8/poll_ledger/pkg/database"
	"github.com/jaam8/poll_ledger/pkg/logger"
	"github.com/jaam8/poll_ledger/pkg/tarantool"
	"github.com/mattermost/mattermost-server/v6/model"
	"go.uber.org/zap"
	logg "log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	cfg, err := config.New()
	if err != nil {
		logg.Fatalf("failed to load config: %s", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logg.Fatalf("failed to initalize logger: %s", err)
	}
	defer func() { _ = log.Sync() }()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		logg.Fatalf("failed to open %s store: %s", cfg.StoreDriver, err)
	}
	defer closeStore()

	program, err := cfg.Program()
	if err != nil {
		logg.Fatalf("failed to resolve program id: %s", err)
	}

	client := model.NewAPIv4Client(cfg.MmURL)
	webSocketClient, err := model.NewWebSocketClient4(cfg.MmWsURL, cfg.BotToken)
	if err != nil {
		logg.Fatalf("failed to connect to webSocket: %v", err)
	}

	clock := srv.SystemClock{}
	repo := repository.New(store, address.NewDeriver(program), log)
	service := srv.New(repo, clock, log)
	handler := api.New(service, log, client, cfg.ChannelID, clock)

	client.SetToken(cfg.BotToken)
	webSocketClient.Listen()
	var botID string
	if user, _, err := client.GetUser("me", ""); err != nil {
		logg.Fatalf("failed to get user: %s", err)
	} else {
		botID = user.Id
	}
	log.Info("poll ledger bot started",
		zap.String("store", cfg.StoreDriver),
		zap.Stringer("program", program),
		zap.String("bot_id", botID))

	go func() {
		for event := range webSocketClient.EventChannel {
			if event.EventType() == model.WebsocketEventPosted {
				log.Debug("new message", zap.String("event", event.EventType()))
				api.HandleMessage(ctx, handler, event, botID)
			}
		}
	}()

	<-ctx.Done()
	webSocketClient.Close()
	log.Info("server graceful stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreTarantool:
		conn, err := tarantool.New(cfg.Tarantool)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewTarantoolStore(conn, log), func() { _ = conn.CloseGraceful() }, nil
	case config.StoreSQLite, config.StorePostgres:
		db, err := database.Connect(cfg.StoreDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewGormStore(db, log)
		if err = store.Migrate(ctx); err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		return store, func() { _ = database.Close(db) }, nil
	default:
		log.Warn("using in-memory store, the ledger is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}
