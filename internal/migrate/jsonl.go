// Package migrate moves store contents in and out of JSONL files.
//
// Each line holds one key and its value in the typed envelope produced by
// kv.Encode, so byte slices, times and nested containers survive the
// round trip exactly:
//
//	{"key":"theme","value":{"t":"string","v":"dark"}}
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/steveyegge/kvsync/internal/clock"
	"github.com/steveyegge/kvsync/internal/kv"
)

// Record is one JSONL line.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ImportOptions controls Import.
type ImportOptions struct {
	DryRun bool // Count changes without writing
	Prune  bool // Delete store keys the file does not contain

	// IncludeClock imports the sync clock entry when the file has one.
	// It is skipped by default so an import never changes which store
	// the next sync treats as authoritative.
	IncludeClock bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Read      int
	Written   int
	Unchanged int
	Deleted   int
	Skipped   int
	Errors    []string
}

// Export writes every pair in store to w, one record per line, sorted by
// key. The sync clock entry is omitted unless includeClock is set.
func Export(ctx context.Context, store kv.Store, w io.Writer, includeClock bool) (int, error) {
	data, err := store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot store: %w", err)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		if clock.IsKey(k) && !includeClock {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	encoder := json.NewEncoder(bw)
	for _, k := range keys {
		raw, err := kv.Encode(data[k])
		if err != nil {
			return 0, fmt.Errorf("failed to encode key %s: %w", k, err)
		}
		if err := encoder.Encode(Record{Key: k, Value: raw}); err != nil {
			return 0, fmt.Errorf("failed to write key %s: %w", k, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(keys), nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, store kv.Store, path string, includeClock bool) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, store, f, includeClock)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// ReadJSONL parses records from r. A later record for the same key
// replaces an earlier one. Blank lines are ignored.
func ReadJSONL(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var records []Record
	index := make(map[string]int)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if rec.Key == "" {
			return nil, fmt.Errorf("missing key at line %d", lineNum)
		}
		if len(rec.Value) == 0 {
			return nil, fmt.Errorf("missing value for key %s at line %d", rec.Key, lineNum)
		}

		if i, ok := index[rec.Key]; ok {
			records[i] = rec
			continue
		}
		index[rec.Key] = len(records)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}

	return records, nil
}

// Import writes every record from r into store. Records that fail to
// decode or write are reported in ImportResult.Errors and the rest are
// still applied. Writes go through the store, so its change feed sees
// them.
func Import(ctx context.Context, store kv.Store, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	records, err := ReadJSONL(r)
	if err != nil {
		return nil, err
	}

	existing, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}

	result := &ImportResult{}
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		result.Read++
		seen[rec.Key] = true

		if clock.IsKey(rec.Key) && !opts.IncludeClock {
			result.Skipped++
			continue
		}

		value, err := kv.Decode(rec.Value)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to decode key %s: %v", rec.Key, err))
			continue
		}

		if prev, ok := existing[rec.Key]; ok && kv.Equal(prev, value) {
			result.Unchanged++
			continue
		}

		if !opts.DryRun {
			if err := store.Set(ctx, rec.Key, value); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to write key %s: %v", rec.Key, err))
				continue
			}
		}
		result.Written++
	}

	if opts.Prune {
		stale := make([]string, 0)
		for k := range existing {
			if !seen[k] && !clock.IsKey(k) {
				stale = append(stale, k)
			}
		}
		sort.Strings(stale)

		for _, k := range stale {
			if !opts.DryRun {
				if err := store.Delete(ctx, k); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("failed to delete key %s: %v", k, err))
					continue
				}
			}
			result.Deleted++
		}
	}

	return result, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, store kv.Store, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("input file does not exist: %w", err)
		}
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()

	return Import(ctx, store, f, opts)
}
