package reports

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// ActivityReport counts relayed events per bucket, event type and outcome.
type ActivityReport struct {
	store ReportStore
}

// NewActivityReport creates a new ActivityReport generator.
func NewActivityReport(s ReportStore) *ActivityReport {
	return &ActivityReport{store: s}
}

type activityKey struct {
	bucket    time.Time
	eventType string
	outcome   string
}

func (r *ActivityReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	width, err := bucketWidth(filterString(params, "bucket"))
	if err != nil {
		return nil, err
	}

	entries, err := r.store.ReadEntries(ctx, entryFilter(params))
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}

	counts := make(map[activityKey]int)
	for _, e := range entries {
		k := activityKey{
			bucket:    e.TsIngest.UTC().Truncate(width),
			eventType: e.EventType,
			outcome:   e.Outcome,
		}
		counts[k]++
	}

	keys := make([]activityKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if !a.bucket.Equal(b.bucket) {
			return a.bucket.Before(b.bucket)
		}
		if a.eventType != b.eventType {
			return a.eventType < b.eventType
		}
		return a.outcome < b.outcome
	})

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{
			k.bucket.Format(time.RFC3339),
			k.eventType,
			k.outcome,
			strconv.Itoa(counts[k]),
		})
	}

	return writeCSV([]string{"bucket_ts", "event_type", "outcome", "event_count"}, rows)
}

func bucketWidth(bucket string) (time.Duration, error) {
	switch bucket {
	case "", "hour":
		return time.Hour, nil
	case "minute":
		return time.Minute, nil
	case "day":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown bucket %q", ErrInvalidParams, bucket)
	}
}
