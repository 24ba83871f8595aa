package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// keepSnapshots is how many snapshots survive a SaveSnapshot.
const keepSnapshots = 3

// Snapshot is a serialized relay graph as of TsSnapshot.
type Snapshot struct {
	SnapshotID string          `json:"snapshot_id"`
	TsSnapshot time.Time       `json:"ts_snapshot"`
	Payload    json.RawMessage `json:"payload"`
}

// SaveSnapshot stores snap and drops all but the newest few snapshots.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.NewString()
	}
	if snap.TsSnapshot.IsZero() {
		snap.TsSnapshot = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, ts_snapshot, payload) VALUES (?, ?, ?)
	`, snap.SnapshotID, snap.TsSnapshot.UTC(), string(snap.Payload)); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM snapshots ORDER BY ts_snapshot DESC, rowid DESC LIMIT ?
		)
	`, keepSnapshots); err != nil {
		return fmt.Errorf("failed to trim snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot, or nil when there is none.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		snap    Snapshot
		payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, ts_snapshot, payload FROM snapshots
		ORDER BY ts_snapshot DESC, rowid DESC LIMIT 1
	`).Scan(&snap.SnapshotID, &snap.TsSnapshot, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	snap.Payload = json.RawMessage(payload)
	return &snap, nil
}

// ReadEntriesSince returns up to limit entries after the position (since, afterSeq),
// oldest first. Resume a scan from the TsIngest and Seq of the last entry returned.
func (s *Store) ReadEntriesSince(ctx context.Context, since time.Time, afterSeq int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	since = since.UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, ts_ingest, event_type, origin, peer_id, outcome, payload, rowid
		FROM journal
		WHERE ts_ingest > ? OR (ts_ingest = ? AND rowid > ?)
		ORDER BY ts_ingest ASC, rowid ASC
		LIMIT ?
	`, since, since, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return scanEntries(rows)
}
