package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/webshop-saga/internal/domain/stock"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// manifest is one delivery file: every line is "productId,serialNumber".
type manifest struct {
	path   string
	sender string
	units  []stock.Unit
	// skipped counts malformed lines and in-file repeats.
	skipped int
}

// senderFromPath derives the delivery sender from the file name, so
// "acme-2025-06.csv.gz" is sent by "acme-2025-06".
func senderFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// parseLine parses one manifest line. Blank lines and # comments report ok
// false without error.
func parseLine(line string) (stock.Unit, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return stock.Unit{}, false, nil
	}
	product, serial, found := strings.Cut(line, ",")
	if !found {
		return stock.Unit{}, false, errors.Errorf("expected productId,serialNumber: %q", line)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(product), 10, 64)
	if err != nil || id <= 0 {
		return stock.Unit{}, false, errors.Errorf("invalid product id %q", product)
	}
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return stock.Unit{}, false, errors.Errorf("empty serial number for product %d", id)
	}
	return stock.Unit{ProductID: id, SerialNumber: serial}, true, nil
}

// buildBloomFilters creates one bloom filter of serial numbers per file,
// concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64
			if err := streamGzFile(ctx, f, func(line string) {
				u, ok, err := parseLine(line)
				if err != nil || !ok {
					return
				}
				filter.AddString(u.SerialNumber)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("units", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_units", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// readManifests parses every file and marks serials that OTHER files'
// filters may contain. The returned map holds one bit per file that saw the
// serial.
func readManifests(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]manifest, map[string]uint, error) {
	manifests := make([]manifest, len(files))
	candidates := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			m := manifest{path: f, sender: senderFromPath(f)}
			seen := make(map[string]struct{})
			marks := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			line := 0

			if err := streamGzFile(ctx, f, func(raw string) {
				line++
				u, ok, err := parseLine(raw)
				if err != nil {
					slog.Warn("skipping line", slog.String("file", f), slog.Int("line", line), slog.String("error", err.Error()))
					m.skipped++
					return
				}
				if !ok {
					return
				}
				if _, dup := seen[u.SerialNumber]; dup {
					m.skipped++
					return
				}
				seen[u.SerialNumber] = struct{}{}
				m.units = append(m.units, u)

				for j, other := range filters {
					if j == i {
						continue
					}
					if other.TestString(u.SerialNumber) {
						marks[u.SerialNumber] |= fileBit
						break
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "read file %d", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Int("units", len(m.units)),
				slog.Int("skipped", m.skipped),
				slog.Int("candidates", len(marks)),
			)
			manifests[i] = m
			candidates[i] = marks
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	merged := make(map[string]uint)
	for _, marks := range candidates {
		for serial, mask := range marks {
			merged[serial] |= mask
		}
	}
	return manifests, merged, nil
}

// dropCrossFileDuplicates keeps a serial that appears in several files only
// in the first of them. It returns how many units were dropped.
func dropCrossFileDuplicates(manifests []manifest, masks map[string]uint) int {
	dropped := 0
	for i := range manifests {
		kept := manifests[i].units[:0]
		for _, u := range manifests[i].units {
			mask := masks[u.SerialNumber]
			if bits.OnesCount(mask) >= 2 && bits.TrailingZeros(mask) != i {
				dropped++
				continue
			}
			kept = append(kept, u)
		}
		manifests[i].units = kept
	}
	return dropped
}

// dropExisting removes units whose serial is already in the set.
func dropExisting(m *manifest, existing map[string]struct{}) int {
	kept := m.units[:0]
	dropped := 0
	for _, u := range m.units {
		if _, ok := existing[u.SerialNumber]; ok {
			dropped++
			continue
		}
		kept = append(kept, u)
	}
	m.units = kept
	return dropped
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
