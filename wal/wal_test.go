package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func setupTestWAL(t *testing.T) (*Physical, string, func()) {
	t.Helper()
	dir := fmt.Sprintf("/tmp/wal-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0o755)

	path := filepath.Join(dir, "wal.log")
	w, err := Open(path, logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return w, path, func() {
		w.Close()
		os.RemoveAll(dir)
	}
}

func TestAppendAndReadAll(t *testing.T) {
	w, _, cleanup := setupTestWAL(t)
	defer cleanup()

	records := []Record{
		{GroupID: 1, PageID: 10, Kind: "insert", Payload: []byte("page-10-image")},
		{GroupID: 1, PageID: 11, Kind: "split", Payload: []byte("page-11-image")},
		{GroupID: 2, PageID: 10, Kind: "remove", Payload: []byte("page-10-image-v2")},
	}
	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i, want := range records {
		if got[i].GroupID != want.GroupID || got[i].PageID != want.PageID || got[i].Kind != want.Kind {
			t.Fatalf("record %d: expected %+v, got %+v", i, want, got[i])
		}
		if string(got[i].Payload) != string(want.Payload) {
			t.Fatalf("record %d: payload mismatch: expected %q, got %q", i, want.Payload, got[i].Payload)
		}
	}
}

func TestReadAllOnEmptyLog(t *testing.T) {
	w, _, cleanup := setupTestWAL(t)
	defer cleanup()

	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	w, path, cleanup := setupTestWAL(t)
	defer cleanup()

	if err := w.Append(Record{GroupID: 1, PageID: 5, Kind: "insert", Payload: []byte("abc")}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := Open(path, logr.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	records, err := w2.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after reopen, got %d", len(records))
	}
	if records[0].PageID != 5 || string(records[0].Payload) != "abc" {
		t.Fatalf("unexpected record after reopen: %+v", records[0])
	}

	// Appending after reopen must continue past the header, not overwrite it.
	if err := w2.Append(Record{GroupID: 1, PageID: 6, Kind: "insert", Payload: []byte("def")}); err != nil {
		t.Fatal(err)
	}
	records, err = w2.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after appending post-reopen, got %d", len(records))
	}
}

func TestTruncateDiscardsRecords(t *testing.T) {
	w, _, cleanup := setupTestWAL(t)
	defer cleanup()

	if err := w.Append(Record{GroupID: 1, PageID: 1, Kind: "insert", Payload: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected a truncated log to read back empty, got %d records", len(records))
	}

	// The log must still be appendable after truncation.
	if err := w.Append(Record{GroupID: 1, PageID: 2, Kind: "insert", Payload: []byte("y")}); err != nil {
		t.Fatalf("Append after Truncate: %v", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dir := fmt.Sprintf("/tmp/wal-badmagic-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0o755)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "wal.log")
	if err := os.WriteFile(path, []byte("NOTAWALFILEHEADER"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, logr.Discard()); err == nil {
		t.Fatal("expected Open to reject a file with an invalid header")
	}
}
