// Package reports renders CSV exports of the relay journal.
package reports

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rmax-ai/graphsync/pkg/store"
)

type ReportType string

const (
	// ReportTypeEvents lists every journaled event in the range, oldest first.
	ReportTypeEvents ReportType = "events"
	// ReportTypeActivity counts events per time bucket, type and outcome.
	ReportTypeActivity ReportType = "activity"
)

// ErrInvalidParams is returned for report parameters the generator cannot use.
var ErrInvalidParams = errors.New("invalid report parameters")

// maxReportRows bounds how many journal entries one report reads.
const maxReportRows = 100000

type ReportParams struct {
	Start   time.Time
	End     time.Time
	Filters map[string]interface{} // peer_id, event_type, bucket
}

// ReportStore is the journal access reports need.
type ReportStore interface {
	ReadEntries(ctx context.Context, filter store.EntryFilter) ([]*store.Entry, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}

func filterString(params ReportParams, key string) string {
	if v, ok := params.Filters[key].(string); ok {
		return v
	}
	return ""
}

// entryFilter builds the journal query shared by every report.
func entryFilter(params ReportParams) store.EntryFilter {
	filter := store.EntryFilter{
		From:   params.Start,
		To:     params.End,
		PeerID: filterString(params, "peer_id"),
		Limit:  maxReportRows,
	}
	if t := filterString(params, "event_type"); t != "" {
		filter.EventTypes = []string{t}
	}
	return filter
}
