package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/webshop-saga/internal/domain/stock"
)

func writeManifest(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func serials(units []stock.Unit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.SerialNumber)
	}
	return out
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    stock.Unit
		ok      bool
		wantErr bool
	}{
		{line: "1,SN-1", want: stock.Unit{ProductID: 1, SerialNumber: "SN-1"}, ok: true},
		{line: "  42 , SN-42  ", want: stock.Unit{ProductID: 42, SerialNumber: "SN-42"}, ok: true},
		{line: ""},
		{line: "# header"},
		{line: "no-comma", wantErr: true},
		{line: "x,SN", wantErr: true},
		{line: "0,SN", wantErr: true},
		{line: "3,", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			u, ok, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, u)
		})
	}
}

func TestSenderFromPath(t *testing.T) {
	assert.Equal(t, "acme-2025-06", senderFromPath("/data/acme-2025-06.csv.gz"))
	assert.Equal(t, "globex", senderFromPath("globex.gz"))
}

func TestReadManifests_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeManifest(t, dir, "a.csv.gz", "# first", "1,A-1", "1,SHARED", "1,A-1", "bad line"),
		writeManifest(t, dir, "b.csv.gz", "2,B-1", "2,SHARED", "2,B-2"),
		writeManifest(t, dir, "c.csv.gz", "3,C-1", "3,SHARED"),
	}
	ctx := context.Background()

	filters, err := buildBloomFilters(ctx, files)
	require.NoError(t, err)
	require.Len(t, filters, 3)

	manifests, masks, err := readManifests(ctx, files, filters)
	require.NoError(t, err)

	assert.Equal(t, "a", manifests[0].sender)
	assert.Equal(t, 2, manifests[0].skipped, "repeat and malformed line")
	assert.Equal(t, uint(0b111), masks["SHARED"])

	dropped := dropCrossFileDuplicates(manifests, masks)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []string{"A-1", "SHARED"}, serials(manifests[0].units))
	assert.Equal(t, []string{"B-1", "B-2"}, serials(manifests[1].units))
	assert.Equal(t, []string{"C-1"}, serials(manifests[2].units))
}

func TestBuildBloomFilters_MissingFile(t *testing.T) {
	_, err := buildBloomFilters(context.Background(), []string{filepath.Join(t.TempDir(), "missing.gz")})
	assert.Error(t, err)
}

// --- Mock implementations ---

type fakeSerials struct {
	stored map[string]bool
	calls  int
}

func (f *fakeSerials) ExistingSerials(_ context.Context, serials []string) ([]string, error) {
	f.calls++
	var found []string
	for _, s := range serials {
		if f.stored[s] {
			found = append(found, s)
		}
	}
	return found, nil
}

func TestLookupExistingAndDrop(t *testing.T) {
	units := make([]stock.Unit, 0, lookupBatch+2)
	for i := range lookupBatch + 2 {
		units = append(units, stock.Unit{ProductID: 1, SerialNumber: "S-" + strconv.Itoa(i)})
	}
	repo := &fakeSerials{stored: map[string]bool{
		"S-0":                              true,
		"S-" + strconv.Itoa(lookupBatch+1): true,
	}}

	existing, err := lookupExisting(context.Background(), repo, units)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls, "split into batches")
	assert.Len(t, existing, 2)

	m := manifest{units: units}
	assert.Equal(t, 2, dropExisting(&m, existing))
	assert.Len(t, m.units, lookupBatch)
}
