package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"crashpit/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	crash := api.Group("/crash")
	crash.Get("/state", s.stateHandler)
	crash.Post("/bet", s.placeBetHandler)
	crash.Post("/cashout", s.cashoutHandler)
	crash.Get("/rounds", s.recentRoundsHandler)
	crash.Post("/verify", s.verifyHandler)

	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.setUserBalanceHandler)
	api.Get("/user/:userId/history", s.userHistoryHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"tables":            s.registry.Tables(),
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

// table resolves the engine for the ?table= query param, defaulting "main".
func (s *FiberServer) table(c *fiber.Ctx) (*game.Engine, error) {
	name := c.Query("table", "main")
	engine, exists := s.registry.Get(name)
	if !exists {
		return nil, c.Status(404).JSON(fiber.Map{"error": "unknown table"})
	}
	return engine, nil
}

func (s *FiberServer) stateHandler(c *fiber.Ctx) error {
	engine, err := s.table(c)
	if engine == nil {
		return err
	}
	return c.JSON(engine.Snapshot())
}

type betBody struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var body betBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.UserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user_id is required"})
	}

	engine, errResp := s.table(c)
	if engine == nil {
		return errResp
	}

	receipt, err := engine.PlaceBet(body.UserID, body.Amount, body.AutoCashout)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(receipt)
}

type cashoutBody struct {
	UserID string `json:"user_id"`
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var body cashoutBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.UserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user_id is required"})
	}

	engine, errResp := s.table(c)
	if engine == nil {
		return errResp
	}

	result, err := engine.CashOut(body.UserID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}

func (s *FiberServer) recentRoundsHandler(c *fiber.Ctx) error {
	if s.recorder == nil {
		return c.Status(503).JSON(fiber.Map{"error": "round history unavailable"})
	}
	records, err := s.recorder.RecentRounds(c.Context(), c.Query("table", "main"), c.QueryInt("limit", 20))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load rounds"})
	}
	return c.JSON(fiber.Map{"rounds": records})
}

type verifyBody struct {
	ServerSeed string  `json:"server_seed"`
	ClientSeed string  `json:"client_seed"`
	Nonce      int     `json:"nonce"`
	CrashPoint float64 `json:"crash_point"`
}

func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var body verifyBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.ServerSeed == "" || body.ClientSeed == "" {
		return c.Status(400).JSON(fiber.Map{"error": "server_seed and client_seed are required"})
	}

	valid := game.VerifyRound(s.verify, body.ServerSeed, body.ClientSeed, body.Nonce, body.CrashPoint)
	return c.JSON(fiber.Map{
		"valid":      valid,
		"commitment": game.Commitment(body.ServerSeed),
	})
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user id is required"})
	}

	balance, err := s.ledger.Balance(c.Context(), userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to read balance"})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user id is required"})
	}

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.ledger.SetBalance(c.Context(), userID, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to set balance"})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance,
	})
}

func (s *FiberServer) userHistoryHandler(c *fiber.Ctx) error {
	if s.recorder == nil {
		return c.Status(503).JSON(fiber.Map{"error": "history unavailable"})
	}
	userID := c.Params("userId")
	settlements, err := s.recorder.UserSettlements(c.Context(), userID, c.QueryInt("limit", 20))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load history"})
	}
	return c.JSON(fiber.Map{"settlements": settlements})
}

// statusForError maps the engine's typed rejections onto HTTP statuses. All
// of them are expected outcomes, not faults.
func statusForError(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, game.ErrInsufficientBalance):
		return fiber.StatusPaymentRequired
	case errors.Is(err, game.ErrDuplicateWager),
		errors.Is(err, game.ErrAlreadySettled):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrRoundNotBetting),
		errors.Is(err, game.ErrRoundNotRunning),
		errors.Is(err, game.ErrNoActiveWager):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, game.ErrEngineBusy):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}
