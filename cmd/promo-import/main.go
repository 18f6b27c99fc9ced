package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	maxBatches   = 64
	writeChunk   = 500
	writeWorkers = 4
)

// Store persists imported promo rules.
type Store interface {
	UpsertPromos(ctx context.Context, rules []promo.Rule) error
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)
	flag.StringVar(&dataDir, "data-dir", "data/promos", "directory containing promo batches")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob of batch files inside data-dir, imported in name order")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate and merge batches without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		lg.Fatal("Bad batch pattern", zap.Error(err))
	}
	slices.Sort(files)

	rules, err := load(ctx, lg, files)
	if err != nil {
		lg.Fatal("Promo import failed", zap.Error(err))
	}
	if dryRun || len(rules) == 0 {
		lg.Info("Nothing written", zap.Int("rules", len(rules)), zap.Bool("dry_run", dryRun))
		return
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		lg.Fatal("Connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := write(ctx, lg, postgres.NewSeeder(pool), rules); err != nil {
		lg.Fatal("Promo import failed", zap.Error(err))
	}
	lg.Info("Promo import completed", zap.Int("rules", len(rules)))
}

// load reads all batch files concurrently and merges them in file order.
func load(ctx context.Context, lg *zap.Logger, files []string) ([]promo.Rule, error) {
	if len(files) == 0 {
		return nil, errors.New("no batch files found")
	}
	if len(files) > maxBatches {
		return nil, errors.Errorf("%d batch files, at most %d supported", len(files), maxBatches)
	}

	batches := make([][]promo.Rule, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = f.Close() }()

			rules, err := readBatch(gctx, f)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("Batch read", zap.String("file", filepath.Base(path)), zap.Int("rules", len(rules)))
			batches[i] = rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rules, dups, err := merge(ctx, batches)
	if err != nil {
		return nil, errors.Wrap(err, "merge batches")
	}
	for _, d := range dups {
		names := make([]string, len(d.Batches))
		for i, b := range d.Batches {
			names[i] = filepath.Base(files[b])
		}
		lg.Warn("Code defined in several batches, last one wins",
			zap.String("code", d.Code),
			zap.Strings("batches", names),
		)
	}
	return rules, nil
}

// write upserts rules in chunks with bounded concurrency.
func write(ctx context.Context, lg *zap.Logger, store Store, rules []promo.Rule) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(writeWorkers)
	for chunk := range slices.Chunk(rules, writeChunk) {
		g.Go(func() error {
			if err := store.UpsertPromos(gctx, chunk); err != nil {
				return errors.Wrap(err, "upsert promos")
			}
			lg.Debug("Chunk written", zap.Int("rules", len(chunk)))
			return nil
		})
	}
	return g.Wait()
}
