package pagestore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func setupTestStore(t *testing.T) (*Memory, func()) {
	t.Helper()
	dir := fmt.Sprintf("/tmp/pagestore-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0o755)

	m, err := Open(Config{Path: filepath.Join(dir, "pages.db"), Log: logr.Discard()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return m, func() {
		m.Close()
		os.RemoveAll(dir)
	}
}

func TestAllocateAndReadWrite(t *testing.T) {
	m, cleanup := setupTestStore(t)
	defer cleanup()

	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if id == 0 {
		t.Fatal("page 0 is reserved as the no-page sentinel and must never be allocated")
	}

	f, err := m.Acquire(id)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(f)

	buf, err := m.WriteLatch(f)
	if err != nil {
		t.Fatalf("WriteLatch: %v", err)
	}
	copy(buf, []byte("hello page"))
	if err := m.WriteUnlatch(f, WALPolicyNone); err != nil {
		t.Fatalf("WriteUnlatch: %v", err)
	}

	rbuf, err := m.ReadLatch(f)
	if err != nil {
		t.Fatalf("ReadLatch: %v", err)
	}
	if !bytes.HasPrefix(rbuf, []byte("hello page")) {
		t.Fatalf("expected the written bytes to be visible, got %q", rbuf[:10])
	}
	m.ReadUnlatch(f)
}

func TestRecycleInvalidatesStaleFrames(t *testing.T) {
	m, cleanup := setupTestStore(t)
	defer cleanup()

	id, err := m.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	staleFrame, err := m.Acquire(id)
	if err != nil {
		t.Fatal(err)
	}

	freshFrame, err := m.Acquire(id)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := m.WriteLatch(freshFrame)
	if err != nil {
		t.Fatal(err)
	}
	m.WriteUnlatch(freshFrame, WALPolicyNone)
	if err := m.Recycle(freshFrame, WALPolicyNone); err != nil {
		t.Fatalf("Recycle: %v", err)
	}
	m.Release(freshFrame)
	_ = buf

	if _, err := m.ReadLatch(staleFrame); err != ErrRecycled {
		t.Fatalf("expected ErrRecycled on a frame acquired before Recycle, got %v", err)
	}
	m.Release(staleFrame)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := fmt.Sprintf("/tmp/pagestore-reopen-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0o755)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "pages.db")

	m1, err := Open(Config{Path: path, Log: logr.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	id, err := m1.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := m1.Acquire(id)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := m1.WriteLatch(f)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf, []byte("persisted"))
	m1.WriteUnlatch(f, WALPolicyNone)
	m1.Release(f)
	if err := m1.Close(); err != nil {
		t.Fatal(err)
	}

	m2, err := Open(Config{Path: path, Log: logr.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()

	f2, err := m2.Acquire(id)
	if err != nil {
		t.Fatalf("Acquire after reopen: %v", err)
	}
	defer m2.Release(f2)
	rbuf, err := m2.ReadLatch(f2)
	if err != nil {
		t.Fatal(err)
	}
	defer m2.ReadUnlatch(f2)
	if !bytes.HasPrefix(rbuf, []byte("persisted")) {
		t.Fatalf("expected the page contents to survive a reopen, got %q", rbuf[:9])
	}
}

func TestClosedStoreRejectsAllocation(t *testing.T) {
	m, cleanup := setupTestStore(t)
	defer cleanup()

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocatePage(); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
