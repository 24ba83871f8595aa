package reports

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EventReport lists journal entries, one row per relayed event.
type EventReport struct {
	store ReportStore
}

// NewEventReport creates a new EventReport generator.
func NewEventReport(s ReportStore) *EventReport {
	return &EventReport{store: s}
}

func (r *EventReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	entries, err := r.store.ReadEntries(ctx, entryFilter(params))
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}

	// The journal reads newest first; the export runs forward in time.
	rows := make([][]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		rows = append(rows, []string{
			e.TsIngest.UTC().Format(time.RFC3339Nano),
			e.EntryID,
			e.EventType,
			e.Origin,
			e.PeerID,
			e.Outcome,
			string(e.Payload),
		})
	}

	return writeCSV([]string{"timestamp", "entry_id", "event_type", "origin", "peer_id", "outcome", "payload"}, rows)
}
