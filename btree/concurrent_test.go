package btree

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestConcurrentInsertRace drives many goroutines inserting disjoint key
// ranges at once, forcing repeated concurrent splits and lock-coupling
// descents through the shared root. errgroup collects the first error
// across the fan-out instead of every caller hand-rolling its own
// WaitGroup-plus-error-channel.
func TestConcurrentInsertRace(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	const workers = 16
	const perWorker = 250

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%03d-%06d", w, i))
				if err := tr.Put(key, key); err != nil {
					return fmt.Errorf("worker %d put %d: %w", w, i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	size, err := tr.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != workers*perWorker {
		t.Fatalf("expected %d keys, got %d", workers*perWorker, size)
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("tree invariants broken after concurrent inserts: %v", err)
	}
}

// TestConcurrentReadersDuringWrites exercises the read-crabbing descent
// (descendRead) against a tree that is actively splitting and merging, the
// scenario the global removal counter restart exists for (§5).
func TestConcurrentReadersDuringWrites(t *testing.T) {
	tr, cleanup := setupTestTree(t)
	defer cleanup()

	const n = 1000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Put(key, key); err != nil {
			t.Fatal(err)
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < n; i += 2 {
			key := []byte(fmt.Sprintf("key-%06d", i))
			if err := tr.Remove(key); err != nil {
				return err
			}
			if err := tr.Put([]byte(fmt.Sprintf("new-%06d", i)), key); err != nil {
				return err
			}
		}
		return nil
	})

	for r := 0; r < 8; r++ {
		g.Go(func() error {
			for i := 1; i < n; i += 2 {
				key := []byte(fmt.Sprintf("key-%06d", i))
				if _, err := tr.FindOne(key); err != nil {
					return fmt.Errorf("odd key %s must always be present: %w", key, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("tree invariants broken after concurrent readers/writers: %v", err)
	}
}
