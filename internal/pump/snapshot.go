package pump

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

// SnapshotWriter appends newline-delimited JSON progress snapshots to a
// gzip-compressed file, the same compressor pdatadb uses for its stored
// blobs. Unlike pdatadb's conditional compression (only keep the gzip
// output if it's smaller), this stream is long and append-only, so
// compression is unconditional.
type SnapshotWriter struct {
	f   *os.File
	zw  *gzip.Writer
	enc *json.Encoder
}

// snapshot is one line of the progress log.
type snapshot struct {
	Time             time.Time `json:"time"`
	AddressesScanned uint64    `json:"addresses_enumerated"`
	LiveConnections  int       `json:"live_connections"`
	ResponsesParsed  uint64    `json:"responses_parsed"`
	RowsPersisted    uint64    `json:"rows_persisted"`
}

// OpenSnapshotWriter creates (or truncates) path and wraps it in a gzip
// writer ready to accept snapshots.
func OpenSnapshotWriter(path string) (*SnapshotWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open status log: %w", err)
	}
	zw := gzip.NewWriter(f)
	return &SnapshotWriter{f: f, zw: zw, enc: json.NewEncoder(zw)}, nil
}

func (w *SnapshotWriter) write(s snapshot) error {
	if err := w.enc.Encode(s); err != nil {
		return err
	}
	return w.zw.Flush()
}

// Close flushes and closes the underlying gzip stream and file.
func (w *SnapshotWriter) Close() error {
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// writeSnapshot records the pump's current progress. Errors are logged,
// never fatal: a snapshot write failure must not interrupt the scan.
func (p *Pump) writeSnapshot() {
	if p.cfg.StatusLog == nil {
		return
	}
	s := snapshot{
		Time:             time.Now(),
		AddressesScanned: p.addressesEnumerated,
		LiveConnections:  len(p.conns),
		ResponsesParsed:  p.responsesParsed,
		RowsPersisted:    p.rowsPersisted,
	}
	if err := p.cfg.StatusLog.write(s); err != nil {
		p.log.Warn().Err(err).Msg("failed to write status snapshot")
	}
}
