// Package wal provides the reference write-ahead log the tree core logs
// opaque delta records to. The core appends during operation and reads
// records back only through Physical.ReadAll, when btree.New replays the log.
//
// Grounded on the teacher's btree/wal.go physical WAL (magic header,
// length-prefixed records, per-record checksum, ReadAll/Truncate/Sync),
// generalized from a page-rewrite-specific record to the opaque
// GroupID/PageID/Kind/Payload record the core's delta catalog needs, and
// switched from hash/crc32 to the faster, more common (in this pack)
// xxhash checksum.
package wal

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// GroupID scopes records when several trees share one physical log.
type GroupID uint32

// Record is one opaque delta. Kind is diagnostic only; the engine never
// switches on it during normal operation.
type Record struct {
	GroupID GroupID
	PageID  uint64
	Kind    string
	Payload []byte
}

// Log is the append-only contract the core depends on. Replay on open uses
// ReadAll, which is offered by Physical, not by this interface.
type Log interface {
	Append(rec Record) error
	Sync() error
	Close() error
}

const (
	magic         = "BWAL"
	formatVersion = 2
	headerSize    = 8 // magic(4) + version(4)
)

// Physical is the reference on-disk implementation of Log.
type Physical struct {
	mu   sync.Mutex
	file *os.File
	off  int64
	log  logr.Logger
}

// Open creates or reopens a physical WAL file at path.
func Open(path string, log logr.Logger) (*Physical, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open wal file")
	}
	w := &Physical{file: f, log: log}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		w.off = headerSize
		return w, nil
	}
	if err := w.validateHeader(); err != nil {
		f.Close()
		return nil, err
	}
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.off = off
	return w, nil
}

func (w *Physical) writeHeader() error {
	h := make([]byte, headerSize)
	copy(h[0:4], magic)
	binary.LittleEndian.PutUint32(h[4:8], formatVersion)
	_, err := w.file.WriteAt(h, 0)
	return err
}

func (w *Physical) validateHeader() error {
	h := make([]byte, headerSize)
	if _, err := w.file.ReadAt(h, 0); err != nil {
		return errors.Wrap(err, "read wal header")
	}
	if string(h[0:4]) != magic {
		return errors.Errorf("wal: bad magic %q", h[0:4])
	}
	if binary.LittleEndian.Uint32(h[4:8]) != formatVersion {
		return errors.Errorf("wal: unsupported format version %d", binary.LittleEndian.Uint32(h[4:8]))
	}
	return nil
}

// on-disk record: [groupID(4)][pageID(8)][kindLen(2)][kind][payloadLen(4)][payload][xxhash(8)]
func encode(r Record) []byte {
	kind := []byte(r.Kind)
	size := 4 + 8 + 2 + len(kind) + 4 + len(r.Payload) + 8
	buf := make([]byte, size)
	i := 0
	binary.LittleEndian.PutUint32(buf[i:], uint32(r.GroupID))
	i += 4
	binary.LittleEndian.PutUint64(buf[i:], r.PageID)
	i += 8
	binary.LittleEndian.PutUint16(buf[i:], uint16(len(kind)))
	i += 2
	copy(buf[i:], kind)
	i += len(kind)
	binary.LittleEndian.PutUint32(buf[i:], uint32(len(r.Payload)))
	i += 4
	copy(buf[i:], r.Payload)
	i += len(r.Payload)
	sum := xxhash.Sum64(buf[:i])
	binary.LittleEndian.PutUint64(buf[i:], sum)
	return buf
}

func decode(buf []byte) (Record, int, error) {
	if len(buf) < 4+8+2 {
		return Record{}, 0, errors.New("wal: truncated record header")
	}
	i := 0
	group := binary.LittleEndian.Uint32(buf[i:])
	i += 4
	pageID := binary.LittleEndian.Uint64(buf[i:])
	i += 8
	kindLen := int(binary.LittleEndian.Uint16(buf[i:]))
	i += 2
	if len(buf) < i+kindLen+4 {
		return Record{}, 0, errors.New("wal: truncated kind/payload length")
	}
	kind := string(buf[i : i+kindLen])
	i += kindLen
	payloadLen := int(binary.LittleEndian.Uint32(buf[i:]))
	i += 4
	if len(buf) < i+payloadLen+8 {
		return Record{}, 0, errors.New("wal: truncated payload")
	}
	payload := append([]byte(nil), buf[i:i+payloadLen]...)
	i += payloadLen
	wantSum := binary.LittleEndian.Uint64(buf[i:])
	i += 8

	gotSum := xxhash.Sum64(buf[:i-8])
	if gotSum != wantSum {
		return Record{}, 0, errors.New("wal: checksum mismatch, record corrupted")
	}
	return Record{GroupID: GroupID(group), PageID: pageID, Kind: kind, Payload: payload}, i, nil
}

// Append writes one record and advances the log.
func (w *Physical) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := encode(rec)
	if _, err := w.file.WriteAt(buf, w.off); err != nil {
		return errors.Wrap(err, "append wal record")
	}
	w.off += int64(len(buf))
	w.log.V(2).Info("wal append", "group", rec.GroupID, "page", rec.PageID, "kind", rec.Kind, "bytes", len(buf))
	return nil
}

// Sync forces the log to stable storage.
func (w *Physical) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close syncs and closes the underlying file.
func (w *Physical) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Truncate discards every record (used after a checkpoint proves every
// page image in the log has already reached the page store).
func (w *Physical) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.file.Name()
	if err := w.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w.file = f
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.off = headerSize
	return nil
}

// ReadAll replays every well-formed record in file order, for the WAL
// replay btree.New runs on open. A corrupt trailing record (a crash mid-append)
// simply ends replay at the last good record, rather than failing it.
func (w *Physical) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var records []Record
	off := int64(headerSize)
	buf := make([]byte, w.off-off)
	if len(buf) == 0 {
		return nil, nil
	}
	if _, err := w.file.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read wal body")
	}
	cursor := 0
	for cursor < len(buf) {
		rec, n, err := decode(buf[cursor:])
		if err != nil {
			break
		}
		records = append(records, rec)
		cursor += n
	}
	return records, nil
}
