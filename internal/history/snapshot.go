package history

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"
	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/klauspost/compress/zstd"
)

// snapshotEntry is the wire shape of one exported event.
type snapshotEntry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	ProgramID string         `json:"program_id"`
	Timestamp time.Time      `json:"timestamp"`
	Slot      *uint64        `json:"slot,omitempty"`
	Signature string         `json:"signature,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Export serialises a point-in-time snapshot of every program's
// retained events as newline-delimited JSON inside a zstd stream. The
// store itself is
// ephemeral (no disk persistence backs it); Export exists solely so an
// external dashboard can pull a one-shot snapshot for its own display
// cache.
func (h *History) Export(w io.Writer) error {
	h.bucketsMu.RLock()
	bkts := make(map[events.ProgramID]*bucket, len(h.buckets))
	for id, b := range h.buckets {
		bkts[id] = b
	}
	h.bucketsMu.RUnlock()

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("history export: zstd writer: %w", err)
	}
	defer zw.Close()

	enc := json.NewEncoder(zw)
	for programID, b := range bkts {
		b.mu.RLock()
		snapshot := make([]*events.ProgramEvent, len(b.events))
		copy(snapshot, b.events)
		b.mu.RUnlock()

		for _, ev := range snapshot {
			entry := snapshotEntry{
				ID:        ev.ID.String(),
				Type:      string(ev.Type),
				ProgramID: programID.String(),
				Timestamp: ev.Timestamp,
				Slot:      ev.Slot,
				Signature: ev.Signature,
				Data:      ev.Data,
			}
			if err := enc.Encode(entry); err != nil {
				return fmt.Errorf("history export: encode: %w", err)
			}
		}
	}
	return nil
}

// CompressRecord snappy-compresses a single serialised record, for
// transports that push individual snapshot entries rather than the
// bulk zstd stream Export produces.
func CompressRecord(record []byte) []byte {
	return snappy.Encode(nil, record)
}

// DecompressRecord reverses CompressRecord.
func DecompressRecord(compressed []byte) ([]byte, error) {
	return snappy.Decode(nil, compressed)
}
