package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/webshop-saga/internal/domain/stock"
	"github.com/xenking/webshop-saga/internal/repository"
)

// lookupBatch bounds the serials sent in one existence query.
const lookupBatch = 5_000

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing delivery manifests")
	flag.StringVar(&pattern, "pattern", "*.gz", "glob of gzip manifests inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, dryRun); err != nil {
		slog.Error("delivery ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("delivery ingest completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "glob manifests")
	}
	if len(files) == 0 {
		slog.Info("no manifests found", slog.String("dir", dataDir), slog.String("pattern", pattern))
		return nil
	}
	sort.Strings(files)

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Parse units and mark serials shared between files.
	slog.Info("pass 2: reading manifests")

	manifests, masks, err := readManifests(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "read manifests")
	}
	if n := dropCrossFileDuplicates(manifests, masks); n > 0 {
		slog.Warn("dropped serials repeated across manifests", slog.Int("count", n))
	}

	if dryRun {
		for _, m := range manifests {
			slog.Info("dry run", slog.String("sender", m.sender), slog.Int("units", len(m.units)))
		}
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	inventory := repository.NewInventoryRepository(pool)
	svc := stock.NewService(inventory, nil, nil)

	for i := range manifests {
		m := &manifests[i]
		existing, err := lookupExisting(ctx, inventory, m.units)
		if err != nil {
			return errors.Wrapf(err, "check serials of %s", m.path)
		}
		if n := dropExisting(m, existing); n > 0 {
			slog.Warn("dropped serials already in stock", slog.String("sender", m.sender), slog.Int("count", n))
		}
		if len(m.units) == 0 {
			slog.Info("nothing to receive", slog.String("sender", m.sender))
			continue
		}

		d, err := svc.ReceiveDelivery(ctx, m.sender, m.units)
		if err != nil {
			return errors.Wrapf(err, "receive delivery from %s", m.sender)
		}
		slog.Info("delivery received",
			slog.Int64("id", d.ID),
			slog.String("sender", d.Sender),
			slog.Int("units", len(d.Units)),
		)
	}

	return nil
}

type serialLookup interface {
	ExistingSerials(ctx context.Context, serials []string) ([]string, error)
}

func lookupExisting(ctx context.Context, repo serialLookup, units []stock.Unit) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for start := 0; start < len(units); start += lookupBatch {
		end := min(start+lookupBatch, len(units))
		serials := make([]string, 0, end-start)
		for _, u := range units[start:end] {
			serials = append(serials, u.SerialNumber)
		}
		found, err := repo.ExistingSerials(ctx, serials)
		if err != nil {
			return nil, err
		}
		for _, s := range found {
			existing[s] = struct{}{}
		}
	}
	return existing, nil
}
