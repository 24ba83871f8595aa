package store

import (
	"encoding/json"
	"math"
	"time"
)

// Origin kinds recorded in the journal.
const (
	OriginPeer = "peer"
	OriginAPI  = "api"
	OriginBus  = "bus"
)

// Entry is one journaled event as relayed by the daemon.
type Entry struct {
	EntryID   string          `json:"entry_id"`
	TsIngest  time.Time       `json:"ts_ingest"`
	EventType string          `json:"event_type"`
	Origin    string          `json:"origin"`
	PeerID    string          `json:"peer_id"`
	Outcome   string          `json:"outcome"` // applied | rejected | unknown | invalid
	Payload   json.RawMessage `json:"payload"`

	// Seq is the journal row order. Entries sharing a timestamp are ordered by it.
	Seq int64 `json:"-"`
}

// SeqEnd passed as afterSeq to ReadEntriesSince skips every entry stamped exactly since.
const SeqEnd = int64(math.MaxInt64)

// EntryFilter narrows ReadEntries.
type EntryFilter struct {
	From       time.Time
	To         time.Time
	EventTypes []string
	PeerID     string
	Limit      int
}
