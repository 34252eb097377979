package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"goatclash/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes(allowedOrigins string) {
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")
	api.Get("/state", s.stateHandler)

	bets := api.Group("/bets")
	bets.Get("/", s.listBetsHandler)
	bets.Get("/recent", s.recentBetsHandler)
	bets.Get("/:commitment", s.getBetHandler)
	bets.Post("/", s.requireCaller, s.placeBetHandler)
	bets.Post("/settle", s.requireCaller, s.settleBetHandler)
	bets.Post("/:commitment/cancel", s.requireCaller, s.cancelBetHandler)

	debts := api.Group("/debts")
	debts.Get("/:address", s.getDebtHandler)
	debts.Post("/:address/collect", s.requireCaller, s.collectDebtHandler)

	admin := api.Group("/admin", s.requireCaller)
	admin.Post("/token", s.setTokenHandler)
	admin.Post("/croupier", s.setCroupierHandler)
	admin.Post("/secret-signer", s.setSecretSignerHandler)
	admin.Post("/max-profit", s.setMaxProfitHandler)
	admin.Post("/jackpot", s.increaseJackpotHandler)
	admin.Post("/withdraw", s.withdrawHandler)
	admin.Post("/decommission", s.decommissionHandler)
	admin.Post("/owner/approve", s.approveOwnerHandler)
	admin.Post("/owner/accept", s.acceptOwnerHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.eventsWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	engine := fiber.Map{"status": "up"}
	if sum, err := s.engine.Summary(c.UserContext()); err != nil {
		engine = fiber.Map{"status": "down", "error": err.Error()}
	} else {
		engine["head"] = sum.Head
		engine["pending"] = sum.Pending
		engine["decommissioned"] = sum.Decommissioned
	}

	health := fiber.Map{
		"engine":   engine,
		"cache":    disabled,
		"database": disabled,
		"websocket": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	return c.JSON(health)
}

var disabled = map[string]string{"status": "disabled"}

// eventsWebSocketHandler streams engine events. Clients only send pings.
func (s *FiberServer) eventsWebSocketHandler(conn *websocket.Conn) {
	address := conn.Query("address", "anonymous")
	s.logger.Debug().Str("address", address).Msg("websocket connected")

	client := s.hub.RegisterClient(conn, address)
	defer s.hub.UnregisterClient(client)

	if sum, err := s.engine.Summary(context.Background()); err == nil {
		if data, err := json.Marshal(game.WSMessage{Type: "initial_state", Data: sum}); err == nil {
			client.Send(data)
		}
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Str("address", address).Msg("websocket closed")
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg game.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(game.WSMessage{Type: "pong"})
			client.Send(pong)
		}
	}
}
