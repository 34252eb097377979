package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"goatclash/internal/cache"
	"goatclash/internal/chain"
	"goatclash/internal/commitment"
	"goatclash/internal/config"
	"goatclash/internal/database"
	"goatclash/internal/events/kafka"
	"goatclash/internal/game"
	"goatclash/internal/logging"
	"goatclash/internal/server"
	"goatclash/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blocks, closeChain, err := blockSource(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("block source")
	}
	defer closeChain()

	ledger := devLedger(cfg)

	hub := game.NewHub(logger)
	go hub.Run()
	sinks := []game.EventSink{hub}

	redisSvc := cache.New(logger)
	if redisSvc != nil {
		sinks = append(sinks, redisSvc)
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Logger:  logger,
	})
	if producer != nil {
		sinks = append(sinks, producer)
	}

	db, store, snap, restored := openDatabase(ctx, cfg, logger)
	if store != nil {
		sinks = append(sinks, database.NewProjector(store, logger))
	}

	dispatcher := game.NewDispatcher(logger, 1024, sinks...)
	go dispatcher.Run()

	var verifier commitment.Verifier = commitment.Secp256k1{}
	if cfg.Engine.Verifier == "ed25519" {
		verifier = commitment.Ed25519{}
	}

	tokenAddr := cfg.Engine.Token
	if tokenAddr == (common.Address{}) {
		tokenAddr = ledger.Address()
	}
	engine, err := game.NewEngine(ctx, game.Options{
		Self:              cfg.Engine.Self,
		Rules:             cfg.Engine.Rules,
		Roles:             cfg.Engine.Roles,
		Token:             tokenAddr,
		MaxProfit:         cfg.Engine.MaxProfit,
		Chain:             blocks,
		Tokens:            token.NewRegistry(ledger),
		Verifier:          verifier,
		Publisher:         dispatcher,
		Logger:            logger,
		ResolvedCacheSize: cfg.Engine.ResolvedCacheSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine")
	}
	if restored {
		if err := engine.Restore(ctx, snap); err != nil {
			logger.Fatal().Err(err).Msg("restore engine")
		}
	}

	srv := server.New(cfg.Server, cfg.Auth, server.Deps{
		Engine: engine,
		Hub:    hub,
		Cache:  redisSvc,
		DB:     db,
		Store:  store,
		Logger: logger,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info().Str("addr", addr).Bool("simulated", cfg.Simulated()).Msg("listening")
		if err := srv.Listen(addr); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	// Shutdown also stops the hub, closing websocket clients.
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	dispatcher.Close()
	if producer != nil {
		producer.Close()
	}
	if redisSvc != nil {
		redisSvc.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info().Msg("stopped")
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() && os.Getenv("LOG_FORMAT") == "" {
		cfg.Logging.Format = "pretty"
	}
	return logging.New(cfg.Logging)
}

// blockSource is a JSON-RPC node when configured, otherwise a simulated chain
// sealing blocks on a timer.
func blockSource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (chain.BlockSource, func(), error) {
	if cfg.Simulated() {
		sim := chain.NewSimulated(crypto.Keccak256Hash([]byte(cfg.Chain.Seed)), logger)
		go sim.Run(ctx, cfg.Chain.BlockInterval)
		return sim, func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rpc, err := chain.DialRPC(dialCtx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	cached, err := chain.NewCached(rpc, cfg.Chain.CacheSize, cfg.Chain.Confirmations)
	if err != nil {
		rpc.Close()
		return nil, nil, err
	}
	return cached, rpc.Close, nil
}

// devLedger is the in-process token ledger with the house bankroll and any
// configured players funded and approved.
func devLedger(cfg *config.Config) *token.Memory {
	ledger := token.NewMemory(cfg.Dev.Token)
	ledger.Mint(cfg.Engine.Self, cfg.Dev.HouseBalance)
	for _, p := range cfg.Dev.Players {
		ledger.Mint(p, cfg.Dev.PlayerBalance)
		ledger.Approve(p, cfg.Engine.Self, cfg.Dev.PlayerBalance)
	}
	return ledger
}

// openDatabase runs without persistence when postgres is unreachable.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (database.Service, *database.Store, game.Snapshot, bool) {
	db, err := database.New(logger)
	if err != nil {
		logger.Warn().Err(err).Msg("database unavailable, running without persistence")
		return nil, nil, game.Snapshot{}, false
	}
	if health := db.Health(); health["status"] != "up" {
		logger.Warn().Str("error", health["error"]).Msg("database unavailable, running without persistence")
		db.Close()
		return nil, nil, game.Snapshot{}, false
	}
	if err := database.RunMigrations(db.DB(), cfg.MigrationsPath); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	store := database.NewStore(db.DB())
	snap, ok, err := store.LoadSnapshot(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load snapshot")
	}
	return db, store, snap, ok
}
