package btree

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/intellect4all/bptree-engine/pagestore"
	"github.com/intellect4all/bptree-engine/wal"
)

func setupTestTree(t *testing.T) (*Tree, func()) {
	t.Helper()

	dir := fmt.Sprintf("/tmp/bptree-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0o755)

	store, err := pagestore.Open(pagestore.Config{Path: filepath.Join(dir, "pages.db"), Log: logr.Discard()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	walLog, err := wal.Open(filepath.Join(dir, "wal.log"), logr.Discard())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}

	cfg := DefaultConfig("test")
	cfg.Store = store
	cfg.WAL = walLog

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	cleanup := func() {
		tr.Close()
		store.Close()
		walLog.Close()
		os.RemoveAll(dir)
	}
	return tr, cleanup
}

func TestBasicOperations(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.Put([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, err := tr.FindOne([]byte("key1"))
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if string(value) != "value1" {
		t.Fatalf("expected value1, got %s", value)
	}

	_, err = tr.FindOne([]byte("nonexistent"))
	if err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestUpdateInPlace(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.Put([]byte("key1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put([]byte("key1"), []byte("v2")); err != nil {
		t.Fatal(err)
	}

	value, err := tr.FindOne([]byte("key1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "v2" {
		t.Fatalf("expected v2, got %s", value)
	}

	n, err := tr.Size()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 key after overwrite, got %d", n)
	}
}

func TestPutXDuplicateKey(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.PutX([]byte("key1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	err := tr.PutX([]byte("key1"), []byte("v2"))
	if err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.Put(nil, []byte("v")); err != ErrKeyEmpty {
		t.Fatalf("expected ErrKeyEmpty, got %v", err)
	}
	if err := tr.Remove(nil); err != ErrKeyEmpty {
		t.Fatalf("expected ErrKeyEmpty, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.Put([]byte("key1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Remove([]byte("key1")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	_, err := tr.FindOne([]byte("key1"))
	if err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after remove, got %v", err)
	}

	// Remove is idempotent, RemoveX is not.
	if err := tr.Remove([]byte("key1")); err != nil {
		t.Fatalf("Remove of absent key should be a no-op, got %v", err)
	}
	if err := tr.RemoveX([]byte("key1")); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound from RemoveX, got %v", err)
	}
}

func TestManyKeysAndSplits(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	const n = 2000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		val := []byte(fmt.Sprintf("value-%06d", i))
		if err := tr.Put(key, val); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	level, err := tr.RootLevel()
	if err != nil {
		t.Fatal(err)
	}
	if level == 0 {
		t.Fatalf("expected the tree to have split into at least one inner level after %d keys", n)
	}

	size, err := tr.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != n {
		t.Fatalf("expected %d keys, got %d", n, size)
	}

	for i := 0; i < n; i += 37 {
		key := []byte(fmt.Sprintf("key-%06d", i))
		want := fmt.Sprintf("value-%06d", i)
		got, err := tr.FindOne(key)
		if err != nil {
			t.Fatalf("FindOne(%s) failed: %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("key %s: expected %s, got %s", key, want, got)
		}
	}

	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate failed after inserts: %v", err)
	}
}

func TestRemoveManyKeysTriggersMerges(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	const n = 1500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Remove(key); err != nil {
			t.Fatalf("Remove(%s) failed: %v", key, err)
		}
	}

	size, err := tr.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != n/2 {
		t.Fatalf("expected %d keys remaining, got %d", n/2, size)
	}

	for i := 1; i < n; i += 2 {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if _, err := tr.FindOne(key); err != nil {
			t.Fatalf("FindOne(%s) failed: %v", key, err)
		}
	}

	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate failed after removals: %v", err)
	}
}

func TestFindFirstAndLast(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	k, v, err := tr.FindFirst([]byte("key-050"))
	if err != nil {
		t.Fatalf("FindFirst failed: %v", err)
	}
	if string(k) != "key-050" {
		t.Fatalf("expected key-050, got %s", k)
	}
	if string(v) != "key-050" {
		t.Fatalf("expected value key-050, got %s", v)
	}

	k, _, err = tr.FindLast([]byte("key-050"))
	if err != nil {
		t.Fatalf("FindLast failed: %v", err)
	}
	if string(k) != "key-050" {
		t.Fatalf("expected key-050, got %s", k)
	}
}

func TestRemoveRange(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	n, err := tr.RemoveRange([]byte("key-000100"), []byte("key-000200"))
	if err != nil {
		t.Fatalf("RemoveRange failed: %v", err)
	}
	if n != 100 {
		t.Fatalf("expected 100 keys removed, got %d", n)
	}

	if _, err := tr.FindOne([]byte("key-000150")); err != ErrKeyNotFound {
		t.Fatalf("expected key-000150 to be gone, got %v", err)
	}
	if _, err := tr.FindOne([]byte("key-000099")); err != nil {
		t.Fatalf("expected key-000099 to survive, got %v", err)
	}
	if _, err := tr.FindOne([]byte("key-000200")); err != nil {
		t.Fatalf("expected key-000200 (exclusive upper bound) to survive, got %v", err)
	}

	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate failed after RemoveRange: %v", err)
	}
}

func TestInvokeReadModifyWrite(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	err := tr.Invoke([]byte("counter"), func(key, current []byte, found bool) (ClosureResult, []byte) {
		if !found {
			return ClosureReady, []byte("1")
		}
		return ClosureReady, []byte(fmt.Sprintf("%d", mustAtoi(current)+1))
	})
	if err != nil {
		t.Fatalf("Invoke (create) failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		err := tr.Invoke([]byte("counter"), func(key, current []byte, found bool) (ClosureResult, []byte) {
			return ClosureReady, []byte(fmt.Sprintf("%d", mustAtoi(current)+1))
		})
		if err != nil {
			t.Fatalf("Invoke (increment) failed: %v", err)
		}
	}

	v, err := tr.FindOne([]byte("counter"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "5" {
		t.Fatalf("expected counter to reach 5, got %s", v)
	}

	err = tr.Invoke([]byte("counter"), func(key, current []byte, found bool) (ClosureResult, []byte) {
		return ClosureRemove, nil
	})
	if err != nil {
		t.Fatalf("Invoke (remove) failed: %v", err)
	}
	if _, err := tr.FindOne([]byte("counter")); err != ErrKeyNotFound {
		t.Fatalf("expected counter removed, got %v", err)
	}
}

func TestInvokeNoopLeavesValueUntouched(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.Put([]byte("key1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	err := tr.Invoke([]byte("key1"), func(key, current []byte, found bool) (ClosureResult, []byte) {
		return ClosureNoop, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := tr.FindOne([]byte("key1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v1" {
		t.Fatalf("expected value untouched by a noop closure, got %s", v)
	}
}

func TestCursorRangeScan(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	cur := tr.NewCursor([]byte("key-000100"), []byte("key-000110"))
	defer cur.Close()

	count := 0
	for cur.Next() {
		key := cur.Key()
		want := fmt.Sprintf("key-%06d", 100+count)
		if string(key) != want {
			t.Fatalf("position %d: expected %s, got %s", count, want, key)
		}
		count++
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected 10 keys in [key-000100, key-000110), got %d", count)
	}
}

func TestCursorFullScanIsOrdered(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	for i := 999; i >= 0; i-- {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	cur := tr.NewCursor(nil, nil)
	defer cur.Close()

	var prev string
	count := 0
	for cur.Next() {
		k := string(cur.Key())
		if count > 0 && k <= prev {
			t.Fatalf("cursor produced out-of-order keys: %s then %s", prev, k)
		}
		prev = k
		count++
	}
	if count != 1000 {
		t.Fatalf("expected 1000 keys, got %d", count)
	}
}

func TestDestroy(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	if err := tr.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if _, err := tr.FindOne([]byte("key-000000")); err != ErrDestroyed {
		t.Fatalf("expected ErrDestroyed after Destroy, got %v", err)
	}
	if err := tr.Put([]byte("key-000000"), []byte("x")); err != ErrDestroyed {
		t.Fatalf("expected ErrDestroyed on write after Destroy, got %v", err)
	}
}

func TestClosedTreeRejectsOperations(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.FindOne([]byte("key1")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := tr.Put([]byte("key1"), []byte("v")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWALRecoveryReplaysDeltas(t *testing.T) {
	dir := fmt.Sprintf("/tmp/bptree-wal-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0o755)
	defer os.RemoveAll(dir)

	storePath := filepath.Join(dir, "pages.db")
	walPath := filepath.Join(dir, "wal.log")

	store, err := pagestore.Open(pagestore.Config{Path: storePath, Log: logr.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	walLog, err := wal.Open(walPath, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig("recover")
	cfg.Store = store
	cfg.WAL = walLog
	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}
	tr.Close()
	store.Close()
	walLog.Close()

	store2, err := pagestore.Open(pagestore.Config{Path: storePath, Log: logr.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()
	walLog2, err := wal.Open(walPath, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer walLog2.Close()

	cfg2 := DefaultConfig("recover")
	cfg2.Store = store2
	cfg2.WAL = walLog2
	tr2, err := New(cfg2)
	if err != nil {
		t.Fatalf("reopen after recovery failed: %v", err)
	}
	defer tr2.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		v, err := tr2.FindOne(key)
		if err != nil {
			t.Fatalf("FindOne(%s) after recovery failed: %v", key, err)
		}
		if string(v) != string(key) {
			t.Fatalf("key %s: expected %s, got %s", key, key, v)
		}
	}
}

func mustAtoi(b []byte) int {
	n := 0
	for _, c := range b {
		n = n*10 + int(c-'0')
	}
	return n
}
