package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rmax-ai/graphsync/pkg/store"
)

type mockReportStore struct {
	entries    []*store.Entry // newest first, as the journal returns them
	lastFilter store.EntryFilter
	err        error
}

func (m *mockReportStore) ReadEntries(ctx context.Context, filter store.EntryFilter) ([]*store.Entry, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	var results []*store.Entry
	for _, e := range m.entries {
		if !filter.From.IsZero() && e.TsIngest.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.TsIngest.After(filter.To) {
			continue
		}
		if filter.PeerID != "" && e.PeerID != filter.PeerID {
			continue
		}
		results = append(results, e)
	}
	return results, nil
}

func readCSV(t *testing.T, gen Generator, params ReportParams) [][]string {
	t.Helper()
	reader, err := gen.Generate(context.Background(), params)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	records, err := csv.NewReader(reader).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	return records
}

func sampleEntries(base time.Time) []*store.Entry {
	return []*store.Entry{
		{EntryID: "e4", TsIngest: base.Add(70 * time.Minute), EventType: "ADD_EDGE", Origin: store.OriginPeer, PeerID: "b", Outcome: "rejected", Payload: json.RawMessage(`{"from":5,"to":6}`)},
		{EntryID: "e3", TsIngest: base.Add(20 * time.Minute), EventType: "ADD_NODE", Origin: store.OriginAPI, PeerID: "api", Outcome: "applied", Payload: json.RawMessage(`{"id":2}`)},
		{EntryID: "e2", TsIngest: base.Add(10 * time.Minute), EventType: "ADD_NODE", Origin: store.OriginPeer, PeerID: "a", Outcome: "applied", Payload: json.RawMessage(`{"id":1}`)},
		{EntryID: "e1", TsIngest: base.Add(5 * time.Minute), EventType: "ADD_NODE", Origin: store.OriginPeer, PeerID: "a", Outcome: "applied", Payload: json.RawMessage(`{"id":1}`)},
	}
}

func TestEventReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &mockReportStore{entries: sampleEntries(base)}

	records := readCSV(t, NewEventReport(s), ReportParams{
		Start:   base,
		End:     base.Add(2 * time.Hour),
		Filters: map[string]interface{}{"peer_id": "a"},
	})

	if len(records) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(records))
	}
	if records[0][2] != "event_type" || records[0][6] != "payload" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[1][1] != "e1" || records[2][1] != "e2" {
		t.Errorf("expected oldest first, got %s then %s", records[1][1], records[2][1])
	}
	if records[1][6] != `{"id":1}` {
		t.Errorf("payload not kept verbatim: %s", records[1][6])
	}
	if s.lastFilter.PeerID != "a" || s.lastFilter.Limit != maxReportRows {
		t.Errorf("unexpected filter: %+v", s.lastFilter)
	}
}

func TestEventReport_EventTypeFilter(t *testing.T) {
	s := &mockReportStore{}
	readCSV(t, NewEventReport(s), ReportParams{Filters: map[string]interface{}{"event_type": "ADD_EDGE"}})

	if len(s.lastFilter.EventTypes) != 1 || s.lastFilter.EventTypes[0] != "ADD_EDGE" {
		t.Errorf("event type filter not passed through: %+v", s.lastFilter)
	}
}

func TestActivityReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &mockReportStore{entries: sampleEntries(base)}

	records := readCSV(t, NewActivityReport(s), ReportParams{})

	want := [][]string{
		{"bucket_ts", "event_type", "outcome", "event_count"},
		{"2026-03-01T10:00:00Z", "ADD_NODE", "applied", "3"},
		{"2026-03-01T11:00:00Z", "ADD_EDGE", "rejected", "1"},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d: %v", len(records), len(want), records)
	}
	for i := range want {
		for j := range want[i] {
			if records[i][j] != want[i][j] {
				t.Errorf("record %d col %d = %q, want %q", i, j, records[i][j], want[i][j])
			}
		}
	}
}

func TestActivityReport_DayBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &mockReportStore{entries: sampleEntries(base)}

	records := readCSV(t, NewActivityReport(s), ReportParams{Filters: map[string]interface{}{"bucket": "day"}})
	if len(records) != 3 {
		t.Fatalf("expected 2 rows, got %v", records)
	}
	if records[1][0] != "2026-03-01T00:00:00Z" || records[2][0] != "2026-03-01T00:00:00Z" {
		t.Errorf("expected day buckets, got %v", records)
	}
}

func TestActivityReport_Errors(t *testing.T) {
	_, err := NewActivityReport(&mockReportStore{}).Generate(context.Background(), ReportParams{Filters: map[string]interface{}{"bucket": "week"}})
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams for unknown bucket, got %v", err)
	}

	_, err = NewActivityReport(&mockReportStore{err: errors.New("db closed")}).Generate(context.Background(), ReportParams{})
	if err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestNewReportGenerator(t *testing.T) {
	s := &mockReportStore{}
	if _, err := NewReportGenerator(ReportTypeEvents, s); err != nil {
		t.Errorf("events: %v", err)
	}
	if _, err := NewReportGenerator(ReportTypeActivity, s); err != nil {
		t.Errorf("activity: %v", err)
	}
	if _, err := NewReportGenerator("usage", s); err == nil {
		t.Error("expected error for unknown report type")
	}
}
