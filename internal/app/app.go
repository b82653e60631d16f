// Package app opens the stores and the index builder shared by the search
// service and the searchctl tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	pgstore "github.com/Adithya-Monish-Kumar-K/forum-search/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

// SegmentFile is the name of the memory index snapshot under the data dir.
const SegmentFile = "index.seg"

// Stores bundles the three stores every component reads from.
type Stores struct {
	DB       *postgres.Client
	Messages messages.Store
	Index    index.Store
	Settings settings.Store

	closers []func() error
}

// Open connects to Postgres, applies the search schema and opens the index
// and settings stores selected in cfg. Messages always come from Postgres.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	s := &Stores{DB: db, Messages: pgstore.NewMessageStore(db)}
	s.closers = append(s.closers, db.Close)

	if err := pgstore.Migrate(ctx, db); err != nil {
		s.Close()
		return nil, err
	}

	switch cfg.Indexer.Store {
	case "memory":
		mem := index.NewMemoryStore(filepath.Join(cfg.Indexer.DataDir, SegmentFile))
		if err := mem.Load(); err != nil {
			s.Close()
			return nil, err
		}
		s.Index = mem
	default:
		s.Index = pgstore.NewIndexStore(db)
	}

	switch cfg.Settings.Store {
	case "buntdb":
		bunt, err := settings.OpenBunt(cfg.Settings.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Settings = bunt
		s.closers = append(s.closers, bunt.Close)
	default:
		s.Settings = pgstore.NewSettingsStore(db)
	}

	slog.Info("stores opened",
		"index_store", cfg.Indexer.Store,
		"settings_store", cfg.Settings.Store,
		"postgres", fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database),
	)
	return s, nil
}

// Reload refreshes a memory index from its snapshot. Other stores are
// shared and need nothing.
func (s *Stores) Reload() error {
	if mem, ok := s.Index.(*index.MemoryStore); ok {
		return mem.Load()
	}
	return nil
}

// LocalIndex reports whether the index lives in this process's memory, in
// which case only this process may build or update it.
func (s *Stores) LocalIndex() bool {
	_, ok := s.Index.(*index.MemoryStore)
	return ok
}

// Close releases the stores in reverse order of opening.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildConfig turns the indexer section into the config new builds use.
func BuildConfig(cfg config.IndexerConfig) (indexer.BuildConfig, error) {
	size, err := tokenizer.ParseWordSize(cfg.WordSize)
	if err != nil {
		return indexer.BuildConfig{}, err
	}
	bc := indexer.DefaultBuildConfig()
	bc.WordSize = size
	bc.BatchSize = cfg.BatchSize
	bc.StopWordRatio = cfg.StopWordRatio
	return bc, nil
}

// NewBuilder wires an index builder over s. publisher may be nil.
func NewBuilder(s *Stores, cfg config.IndexerConfig, publisher kafka.Publisher, m *metrics.Metrics) (*indexer.Builder, indexer.BuildConfig, error) {
	defaults, err := BuildConfig(cfg)
	if err != nil {
		return nil, indexer.BuildConfig{}, err
	}
	opts := []indexer.Option{indexer.WithDefaults(defaults), indexer.WithMetrics(m)}
	if cfg.StepBudget > 0 {
		opts = append(opts, indexer.WithBudget(cfg.StepBudget))
	}
	if publisher != nil {
		opts = append(opts, indexer.WithPublisher(publisher))
	}
	return indexer.NewBuilder(s.Messages, s.Index, s.Settings, opts...), defaults, nil
}
