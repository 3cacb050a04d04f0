// Package commands implements the bqdrift subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"time"

	"github.com/bqdrift/bqdrift/internal/cli/config"
	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/engine"
	"github.com/bqdrift/bqdrift/internal/loader"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/spf13/cobra"
)

type configKey struct{}
type loggerKey struct{}

// WithConfig stores the loaded config in the command context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithLogger stores the logger in the command context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func getConfig(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

func getLogger(cmd *cobra.Command) *slog.Logger {
	if logger, ok := cmd.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}

// loadRepository loads and returns the repository. Load errors are not
// fatal here: callers decide whether to surface the collected problems
// (validate prints all of them; execution commands refuse to run).
func loadRepository(cmd *cobra.Command) (*loader.Repository, error) {
	cfg := getConfig(cmd)
	if err := cfg.ValidateQueriesDir(); err != nil {
		return nil, err
	}
	return loader.Load(cfg.QueriesDir, loader.Options{Project: cfg.Project, Logger: getLogger(cmd)})
}

// requireValidRepository loads the repository and fails with the full
// problem list when it does not validate.
func requireValidRepository(cmd *cobra.Command) (*loader.Repository, error) {
	repo, err := loadRepository(cmd)
	if err != nil {
		return nil, err
	}
	if !repo.Valid() {
		return nil, &ValidationFailed{Problems: repo.Errors}
	}
	return repo, nil
}

// stack bundles everything a warehouse-facing command needs.
type stack struct {
	Config *config.Config
	Repo   *loader.Repository
	Client warehouse.Client
	Store  state.Store
	Engine *engine.Engine
}

// buildStack wires repository, warehouse client, state gateway, and
// engine for warehouse-facing commands.
func buildStack(cmd *cobra.Command) (*stack, error) {
	cfg := getConfig(cmd)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	repo, err := requireValidRepository(cmd)
	if err != nil {
		return nil, err
	}

	logger := getLogger(cmd)
	client, err := warehouse.NewBigQuery(cmd.Context(), warehouse.BigQueryConfig{
		ProjectID: cfg.Project,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	gateway := state.NewGateway(client, cfg.Project, cfg.Dataset, logger)
	eng := engine.New(repo, gateway, client, engine.Config{
		Project:        cfg.Project,
		ScratchProject: cfg.ScratchProject,
		ScratchTTL:     time.Duration(cfg.ScratchTTLHours) * time.Hour,
		Parallelism:    cfg.Parallelism,
		ExecutedBy:     currentUser(),
		Logger:         logger,
	})
	return &stack{Config: cfg, Repo: repo, Client: client, Store: gateway, Engine: eng}, nil
}

// buildGateway wires only the warehouse client and state gateway, for
// commands that do not need a loaded repository.
func buildGateway(cmd *cobra.Command) (*state.Gateway, error) {
	cfg := getConfig(cmd)
	logger := getLogger(cmd)
	client, err := warehouse.NewBigQuery(cmd.Context(), warehouse.BigQueryConfig{
		ProjectID: cfg.Project,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return state.NewGateway(client, cfg.Project, cfg.Dataset, logger), nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

// parseKeyFlag parses a --partition value against a query's partition
// spec.
func parseKeyFlag(q *core.Query, value string) (core.PartitionKey, error) {
	key, err := core.ParseKey(q.Destination.Partition, value)
	if err != nil {
		return core.PartitionKey{}, fmt.Errorf("--partition: %w", err)
	}
	return key, nil
}

// defaultRange is the window used when no --from/--to/--days is given:
// the 7 days ending today.
func defaultRange(q *core.Query, days int) (core.PartitionKey, core.PartitionKey) {
	if days <= 0 {
		days = 7
	}
	g := q.Destination.Partition.Granularity
	if g == "" {
		g = core.GranularityDay
	}
	now := time.Now().UTC()
	hi := core.TimeKey(g, now)
	lo := core.TimeKey(g, now.AddDate(0, 0, -(days-1)))
	return lo, hi
}

// resolveRange turns --partition / --from+--to / --days flags into an
// inclusive key range.
func resolveRange(q *core.Query, partition, from, to string, days int) (core.PartitionKey, core.PartitionKey, error) {
	switch {
	case partition != "":
		key, err := parseKeyFlag(q, partition)
		if err != nil {
			return core.PartitionKey{}, core.PartitionKey{}, err
		}
		return key, key, nil
	case from != "" && to != "":
		lo, err := core.ParseKey(q.Destination.Partition, from)
		if err != nil {
			return core.PartitionKey{}, core.PartitionKey{}, fmt.Errorf("--from: %w", err)
		}
		hi, err := core.ParseKey(q.Destination.Partition, to)
		if err != nil {
			return core.PartitionKey{}, core.PartitionKey{}, fmt.Errorf("--to: %w", err)
		}
		return lo, hi, nil
	case from != "" || to != "":
		return core.PartitionKey{}, core.PartitionKey{}, fmt.Errorf("--from and --to must be given together")
	default:
		lo, hi := defaultRange(q, days)
		return lo, hi, nil
	}
}

// selectQueries picks the named query or all of them.
func selectQueries(repo *loader.Repository, name string) ([]*core.Query, error) {
	if name == "" {
		return repo.Queries, nil
	}
	q, ok := repo.Query(name)
	if !ok {
		return nil, fmt.Errorf("unknown query %q", name)
	}
	return []*core.Query{q}, nil
}

// classifyAll runs the drift classifier over queries and a flag-driven
// range.
func classifyAll(ctx context.Context, repo *loader.Repository, store state.Store, queries []*core.Query, partition, from, to string, days int) (*drift.Report, error) {
	classifier := drift.NewClassifier(repo, store, nil)
	report := &drift.Report{}
	for _, q := range queries {
		lo, hi, err := resolveRange(q, partition, from, to, days)
		if err != nil {
			return nil, err
		}
		drifts, err := classifier.ClassifyRange(ctx, q, lo, hi)
		if err != nil {
			return nil, err
		}
		report.Partitions = append(report.Partitions, drifts...)
	}
	return report, nil
}
