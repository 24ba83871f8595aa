package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultReadLimit = 100

// AppendEntry records one relayed event. EntryID and TsIngest are filled in when empty.
func (s *Store) AppendEntry(ctx context.Context, e *Entry) error {
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	if e.TsIngest.IsZero() {
		e.TsIngest = time.Now().UTC()
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (entry_id, ts_ingest, event_type, origin, peer_id, outcome, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.EntryID, e.TsIngest.UTC(), e.EventType, e.Origin, e.PeerID, e.Outcome, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// ReadRecentEntries returns the newest entries first.
func (s *Store) ReadRecentEntries(ctx context.Context, limit int) ([]*Entry, error) {
	return s.ReadEntries(ctx, EntryFilter{Limit: limit})
}

// ReadEntries returns entries matching the filter, newest first.
func (s *Store) ReadEntries(ctx context.Context, filter EntryFilter) ([]*Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.From.IsZero() {
		clauses = append(clauses, "ts_ingest >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "ts_ingest <= ?")
		args = append(args, filter.To.UTC())
	}
	if len(filter.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
		clauses = append(clauses, "event_type IN ("+placeholders+")")
		for _, t := range filter.EventTypes {
			args = append(args, t)
		}
	}
	if filter.PeerID != "" {
		clauses = append(clauses, "peer_id = ?")
		args = append(args, filter.PeerID)
	}

	query := `SELECT entry_id, ts_ingest, event_type, origin, peer_id, outcome, payload, rowid FROM journal`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	query += " ORDER BY ts_ingest DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return scanEntries(rows)
}

// ReadEntriesBefore returns up to limit entries older than cutoff, oldest first.
func (s *Store) ReadEntriesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, ts_ingest, event_type, origin, peer_id, outcome, payload, rowid
		FROM journal
		WHERE ts_ingest < ?
		ORDER BY ts_ingest ASC, rowid ASC
		LIMIT ?
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return scanEntries(rows)
}

// DeleteEntries removes the given entries in one transaction.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM journal WHERE entry_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete journal entry %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.EntryID, &e.TsIngest, &e.EventType, &e.Origin, &e.PeerID, &e.Outcome, &payload, &e.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal: %w", err)
	}
	return entries, nil
}

// PruneEntries deletes entries older than retention and returns how many were removed.
func (s *Store) PruneEntries(ctx context.Context, retention time.Duration) (int64, error) {
	return s.PruneEntriesBefore(ctx, time.Now().UTC().Add(-retention))
}

// PruneEntriesBefore deletes entries older than cutoff.
func (s *Store) PruneEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal WHERE ts_ingest < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}
