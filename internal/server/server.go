package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"goatclash/internal/cache"
	"goatclash/internal/config"
	"goatclash/internal/database"
	"goatclash/internal/game"
)

// Deps are the collaborators the API serves. Cache, DB and Store may be nil
// when the service runs without them.
type Deps struct {
	Engine *game.Engine
	Hub    *game.Hub
	Cache  cache.Service
	DB     database.Service
	Store  *database.Store
	Logger zerolog.Logger
}

type FiberServer struct {
	*fiber.App

	engine    *game.Engine
	hub       *game.Hub
	cache     cache.Service
	db        database.Service
	store     *database.Store
	jwtSecret string
	logger    zerolog.Logger
}

func New(cfg config.ServerConfig, authCfg config.AuthConfig, deps Deps) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "goatclash",
			AppName:       "goatclash",
			ReadTimeout:   orDefault(cfg.ReadTimeout, 10*time.Second),
			WriteTimeout:  orDefault(cfg.WriteTimeout, 10*time.Second),
			IdleTimeout:   orDefault(cfg.IdleTimeout, 120*time.Second),
			StrictRouting: false,
			ErrorHandler:  errorHandler,
		}),

		engine:    deps.Engine,
		hub:       deps.Hub,
		cache:     deps.Cache,
		db:        deps.DB,
		store:     deps.Store,
		jwtSecret: authCfg.JWTSecret,
		logger:    deps.Logger.With().Str("component", "server").Logger(),
	}

	server.App.Use(recover.New())
	if cfg.RateLimit > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: 1 * time.Minute,
		}))
	}

	server.RegisterFiberRoutes(cfg.AllowedOrigins)
	return server
}

// Shutdown stops accepting requests and disconnects websocket clients. The
// engine and its sinks are closed by the caller.
func (s *FiberServer) Shutdown() error {
	s.logger.Info().Msg("shutting down")
	if s.hub != nil {
		s.hub.Stop()
	}
	return s.App.Shutdown()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
