package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

// Service is the postgres connection shared by the history recorder and the
// XP award sink.
type Service interface {
	Pool() *pgxpool.Pool
	Health() map[string]string
	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database = os.Getenv("CRASHPIT_DB_DATABASE")
	password = os.Getenv("CRASHPIT_DB_PASSWORD")
	username = os.Getenv("CRASHPIT_DB_USERNAME")
	host     = os.Getenv("CRASHPIT_DB_HOST")
	port     = os.Getenv("CRASHPIT_DB_PORT")
	schema   = os.Getenv("CRASHPIT_DB_SCHEMA")
)

// DSN builds the connection string from the environment.
func DSN() string {
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if username == "" {
		username = "postgres"
	}
	if password == "" {
		password = "postgres"
	}
	if database == "" {
		database = "crashpit"
	}
	if schema == "" {
		schema = "public"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)
}

// New connects a pgx pool. Returns nil when postgres is unreachable; the
// caller decides whether to run with history disabled.
func New() Service {
	cfg, err := pgxpool.ParseConfig(DSN())
	if err != nil {
		log.Printf("[DB] invalid database config: %v", err)
		return nil
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Printf("[DB] pool create failed: %v", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		log.Printf("[DB] postgres connection failed: %v", err)
		pool.Close()
		return nil
	}

	log.Println("[DB] postgres connected")
	return &service{pool: pool}
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)

	return stats
}

func (s *service) Close() error {
	log.Println("[DB] disconnecting from postgres")
	s.pool.Close()
	return nil
}
