package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/graphsync/pkg/blob"
)

func appendAged(t *testing.T, st *Store, age time.Duration, typ string) {
	t.Helper()
	require.NoError(t, st.AppendEntry(context.Background(), &Entry{
		TsIngest:  time.Now().UTC().Add(-age),
		EventType: typ,
		Origin:    OriginPeer,
		PeerID:    "peer-1",
		Outcome:   "applied",
		Payload:   json.RawMessage(`{"id":1}`),
	}))
}

func TestArchiver_ArchiveBefore(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appendAged(t, st, 72*time.Hour-time.Duration(i)*time.Minute, "ADD_NODE")
	}
	appendAged(t, st, time.Minute, "ADD_EDGE")

	blobs := blob.NewLocalStore(t.TempDir())
	archiver := NewArchiver(st, blobs, 2)

	n, err := archiver.ArchiveBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	left, err := st.ReadRecentEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "ADD_EDGE", left[0].EventType)

	keys, err := blobs.List(ctx, "journal")
	require.NoError(t, err)
	assert.Len(t, keys, 3, "batches of 2, 2 and 1")

	var archived []*Entry
	for _, key := range keys {
		batch, err := ReadArchive(ctx, blobs, key)
		require.NoError(t, err)
		archived = append(archived, batch...)
	}
	require.Len(t, archived, 5)
	for _, e := range archived {
		assert.Equal(t, "ADD_NODE", e.EventType)
		assert.JSONEq(t, `{"id":1}`, string(e.Payload))
	}
}

func TestArchiver_NothingToArchive(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	appendAged(t, st, time.Minute, "ADD_NODE")

	blobs := blob.NewLocalStore(t.TempDir())
	n, err := NewArchiver(st, blobs, 0).ArchiveBefore(context.Background(), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	keys, err := blobs.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type failingBlobs struct{ blob.Store }

func (failingBlobs) Put(ctx context.Context, key string, r io.Reader) error {
	return errors.New("disk full")
}

func TestArchiver_KeepsEntriesWhenUploadFails(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	appendAged(t, st, 48*time.Hour, "ADD_NODE")

	_, err := NewArchiver(st, failingBlobs{}, 10).ArchiveBefore(ctx, time.Now().UTC().Add(-time.Hour))
	require.Error(t, err)

	left, err := st.ReadRecentEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestDeleteEntries(t *testing.T) {
	st, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	a := &Entry{EventType: "ADD_NODE", Origin: OriginPeer, PeerID: "a", Outcome: "applied"}
	b := &Entry{EventType: "ADD_EDGE", Origin: OriginPeer, PeerID: "a", Outcome: "applied"}
	require.NoError(t, st.AppendEntry(ctx, a))
	require.NoError(t, st.AppendEntry(ctx, b))

	require.NoError(t, st.DeleteEntries(ctx, nil))
	require.NoError(t, st.DeleteEntries(ctx, []string{a.EntryID}))

	left, err := st.ReadRecentEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, b.EntryID, left[0].EntryID)
}
