// Package handlers holds the HTTP surface: GSI snapshot ingest, live
// status, and health endpoints.
package handlers

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/auth"
	"github.com/dylantcon/countertrak/internal/models"
)

// DefaultMaxBodySize caps snapshot request bodies. Real GSI payloads are
// a few KB; anything near this limit is malformed or hostile.
const DefaultMaxBodySize = 131072

// MatchRouter accepts authenticated snapshots for ordered dispatch to
// per-match processors.
type MatchRouter interface {
	Enqueue(snap *models.Snapshot) bool
	ActiveMatches() int
	Summaries() []models.MatchSummary
}

// TokenValidator checks GSI auth tokens against registered accounts.
type TokenValidator interface {
	IsValid(ctx context.Context, token string) bool
	Stats() auth.Status
}

// SinkQueue exposes the analytics sink's backlog for readiness reporting.
type SinkQueue interface {
	QueueDepth() int
}

type Config struct {
	Manager     MatchRouter
	Tokens      TokenValidator
	Sink        SinkQueue
	Postgres    *pgxpool.Pool
	ClickHouse  driver.Conn
	Redis       *redis.Client
	Logger      *zap.Logger
	MaxBodySize int64
}

type Handler struct {
	manager     MatchRouter
	tokens      TokenValidator
	sink        SinkQueue
	pg          *pgxpool.Pool
	ch          driver.Conn
	redis       *redis.Client
	logger      *zap.SugaredLogger
	validator   *validator.Validate
	maxBodySize int64
}

func New(cfg Config) *Handler {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Handler{
		manager:     cfg.Manager,
		tokens:      cfg.Tokens,
		sink:        cfg.Sink,
		pg:          cfg.Postgres,
		ch:          cfg.ClickHouse,
		redis:       cfg.Redis,
		logger:      cfg.Logger.Sugar(),
		validator:   validator.New(),
		maxBodySize: cfg.MaxBodySize,
	}
}
