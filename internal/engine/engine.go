// Package engine drives execution: it expands drift into an ordered
// plan (cascade planner) and runs plan units against the warehouse in
// dependency order (runner orchestrator).
package engine

import (
	"log/slog"
	"time"

	"github.com/bqdrift/bqdrift/internal/loader"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/internal/warehouse"
)

// DefaultParallelism bounds concurrent queries at one dependency
// level; small by default to respect warehouse quotas.
const DefaultParallelism = 4

// Engine wires the repository, state store, and warehouse client.
// The repository and graph are immutable after load and freely shared;
// the engine is the only component issuing parallel work.
type Engine struct {
	repo   *loader.Repository
	store  state.Store
	client warehouse.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Config holds engine-wide settings.
type Config struct {
	// Project is the production GCP project queries write into.
	Project string
	// ScratchProject, when set, is the isolated project scratch-mode
	// executions write into.
	ScratchProject string
	// ScratchTTL is the auto-expiry applied to scratch tables.
	ScratchTTL time.Duration
	// Parallelism caps concurrent queries per dependency level.
	Parallelism int
	// ExecutedBy is recorded on history rows.
	ExecutedBy string
	// Logger receives progress; nil discards.
	Logger *slog.Logger
}

// New creates an engine.
func New(repo *loader.Repository, store state.Store, client warehouse.Client, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Engine{repo: repo, store: store, client: client, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow fixes the engine's wall clock, for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Repository returns the loaded repository the engine runs against.
func (e *Engine) Repository() *loader.Repository { return e.repo }

// Store returns the engine's state store.
func (e *Engine) Store() state.Store { return e.store }
