package server

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashpit/internal/cache"
	"crashpit/internal/database"
	"crashpit/internal/game"
	"crashpit/internal/history"
	"crashpit/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db       database.Service
	cache    cache.Service
	registry *game.Registry
	hub      *game.Hub
	ledger   LedgerService
	recorder *history.Recorder
	verify   *game.Generator
}

// LedgerService is what both ledger implementations expose to the handlers:
// the engine-facing debit/credit plus the balance admin surface.
type LedgerService interface {
	game.Ledger
	Balance(ctx context.Context, userID string) (float64, error)
	SetBalance(ctx context.Context, userID string, amount float64) error
}

func New() *FiberServer {
	db := database.New()
	redisService := cache.New()

	hub := game.NewHub()

	var ldg LedgerService
	if redisService != nil {
		ldg = ledger.NewRedis(redisService.GetClient())
	} else {
		log.Println("[SERVER] no redis, using in-memory ledger")
		ldg = ledger.NewMemory()
	}

	var recorder *history.Recorder
	var hist game.HistoryRecorder = history.Noop{}
	if db != nil {
		recorder = history.NewRecorder(db.Pool(), history.NewPgXPAwarder(db.Pool()))
		hist = recorder
	} else {
		log.Println("[SERVER] no postgres, round history disabled")
	}

	registry := game.NewRegistry()
	registry.Register(game.NewEngine(tableConfig("main"), ldg, hist, hub))
	if name := os.Getenv("CRASHPIT_EXTRA_TABLE"); name != "" {
		cfg := tableConfig(name)
		cfg.MinBet = getEnvAsFloat("CRASHPIT_EXTRA_TABLE_MIN_BET", 100.0)
		cfg.MaxBet = getEnvAsFloat("CRASHPIT_EXTRA_TABLE_MAX_BET", 100000.0)
		registry.Register(game.NewEngine(cfg, ldg, hist, hub))
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashpit",
			AppName:       "crashpit",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:       db,
		cache:    redisService,
		registry: registry,
		hub:      hub,
		ledger:   ldg,
		recorder: recorder,
		verify:   game.NewGenerator(nil, nil),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	registry.StartAll()

	log.Printf("[SERVER] started tables: %v", registry.Tables())

	return server
}

// Shutdown stops engines first so no settlement is in flight when the
// ledger and history connections close.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] shutting down...")

	s.registry.StopAll()

	if closer, ok := s.ledger.(interface{ Close() }); ok {
		closer.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func tableConfig(name string) game.Config {
	cfg := game.DefaultConfig()
	cfg.Table = name
	cfg.WaitingTime = getEnvAsDuration("CRASHPIT_WAITING_TIME", cfg.WaitingTime)
	cfg.BettingTime = getEnvAsDuration("CRASHPIT_BETTING_TIME", cfg.BettingTime)
	cfg.CrashedTime = getEnvAsDuration("CRASHPIT_CRASHED_TIME", cfg.CrashedTime)
	cfg.TickInterval = getEnvAsDuration("CRASHPIT_TICK_INTERVAL", cfg.TickInterval)
	cfg.HouseEdge = getEnvAsFloat("CRASHPIT_HOUSE_EDGE", cfg.HouseEdge)
	cfg.Curve.GrowthBase = getEnvAsFloat("CRASHPIT_GROWTH_BASE", cfg.Curve.GrowthBase)
	cfg.Curve.TimeFactor = getEnvAsFloat("CRASHPIT_TIME_FACTOR", cfg.Curve.TimeFactor)
	return cfg
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
