package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshots_SaveAndLatest(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	latest, err := st.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "no snapshot yet")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.SaveSnapshot(ctx, &Snapshot{
			TsSnapshot: base.Add(time.Duration(i) * time.Minute),
			Payload:    json.RawMessage(`{"nodes":[],"edges":[],"n":` + string(rune('0'+i)) + `}`),
		}))
	}

	latest, err = st.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.NotEmpty(t, latest.SnapshotID)
	assert.JSONEq(t, `{"nodes":[],"edges":[],"n":4}`, string(latest.Payload))
	assert.WithinDuration(t, base.Add(4*time.Minute), latest.TsSnapshot, time.Millisecond)

	var count int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&count))
	assert.Equal(t, keepSnapshots, count)
}

func TestReadEntriesSince(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, typ := range []string{"ADD_NODE", "ADD_EDGE", "REMOVE_NODE"} {
		require.NoError(t, st.AppendEntry(ctx, &Entry{
			TsIngest:  base.Add(time.Duration(i) * time.Minute),
			EventType: typ,
			Origin:    OriginPeer,
			PeerID:    "p",
			Outcome:   "applied",
		}))
	}

	entries, err := st.ReadEntriesSince(ctx, base, SeqEnd, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "strictly after since")
	assert.Equal(t, "ADD_EDGE", entries[0].EventType, "oldest first")
	assert.Equal(t, "REMOVE_NODE", entries[1].EventType)

	all, err := st.ReadEntriesSince(ctx, time.Time{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReadEntriesSince_ResumesWithinTimestamp(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ts := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendEntry(ctx, &Entry{
			TsIngest:  ts,
			EventType: "ADD_NODE",
			Origin:    OriginPeer,
			PeerID:    fmt.Sprintf("p%d", i),
			Outcome:   "applied",
		}))
	}

	var (
		peers    []string
		since    time.Time
		afterSeq int64
	)
	for {
		batch, err := st.ReadEntriesSince(ctx, since, afterSeq, 2)
		require.NoError(t, err)
		for _, e := range batch {
			peers = append(peers, e.PeerID)
			since, afterSeq = e.TsIngest, e.Seq
		}
		if len(batch) < 2 {
			break
		}
	}
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, peers)

	none, err := st.ReadEntriesSince(ctx, ts, SeqEnd, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
