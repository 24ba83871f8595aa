package store

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rmax-ai/graphsync/pkg/blob"
)

const defaultArchiveBatch = 500

// Archiver moves old journal entries into gzipped JSON Lines blobs.
// An entry is deleted from the journal only after its batch is stored.
type Archiver struct {
	store     *Store
	blobs     blob.Store
	batchSize int
}

// NewArchiver creates an Archiver. batchSize <= 0 uses a default of 500.
func NewArchiver(st *Store, blobs blob.Store, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatch
	}
	return &Archiver{store: st, blobs: blobs, batchSize: batchSize}
}

// ArchiveBefore archives every entry older than cutoff and returns how many were moved.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		n, err := a.archiveBatch(ctx, cutoff)
		total += n
		if err != nil {
			return total, err
		}
		if n < a.batchSize {
			return total, nil
		}
	}
}

func (a *Archiver) archiveBatch(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := a.store.ReadEntriesBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive candidates: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			gz.Close()
			return 0, fmt.Errorf("failed to encode entry %s: %w", e.EntryID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	key := archiveKey(entries[0].TsIngest, entries[len(entries)-1].TsIngest)
	if err := a.blobs.Put(ctx, key, &buf); err != nil {
		return 0, fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.EntryID
	}
	if err := a.store.DeleteEntries(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete archived entries: %w", err)
	}
	return len(entries), nil
}

// archiveKey is journal/YYYY/MM/DD/<first unix>_<last unix>_<uuid>.jsonl.gz.
func archiveKey(first, last time.Time) string {
	year, month, day := first.UTC().Date()
	return fmt.Sprintf("journal/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day, first.Unix(), last.Unix(), uuid.NewString())
}

// ReadArchive decodes one archived batch.
func ReadArchive(ctx context.Context, blobs blob.Store, key string) ([]*Entry, error) {
	r, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", key, err)
	}
	defer gz.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("archive %s: %w", key, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("archive %s: %w", key, err)
	}
	return entries, nil
}
