package btree

import "testing"

// TestSplitLeafPromotesBackPagesLastKey traces the exact shape a full leaf
// [1,2,3,4] must take when put(5) splits it: left keeps [1,2,3], right gets
// [4] (put(5) then lands there, making it [4,5]), and the promoted separator
// is 3 — the back page's own rightmost key, still present in the back page
// after the split.
func TestSplitLeafPromotesBackPagesLastKey(t *testing.T) {
	old := newLeafPage(1)
	for _, k := range []string{"1", "2", "3", "4"} {
		idx, _ := old.Search([]byte(k), defaultComparator, true)
		if err := old.InsertAt(idx, &Item{Key: []byte(k), Value: []byte(k)}, true); err != nil {
			t.Fatal(err)
		}
	}
	newPage := newLeafPage(2)

	promoted, err := splitLeaf(old, newPage, false, true, []byte("5"))
	if err != nil {
		t.Fatal(err)
	}
	if string(promoted) != "3" {
		t.Fatalf("expected promoted key 3, got %s", promoted)
	}

	wantOld := []string{"1", "2", "3"}
	if int(old.Count()) != len(wantOld) {
		t.Fatalf("expected back page to keep %d keys, got %d", len(wantOld), old.Count())
	}
	for i, want := range wantOld {
		item, err := old.ItemAt(uint16(i), true)
		if err != nil {
			t.Fatal(err)
		}
		if string(item.Key) != want {
			t.Fatalf("back page position %d: expected %s, got %s", i, want, item.Key)
		}
	}

	wantNew := []string{"4"}
	if int(newPage.Count()) != len(wantNew) {
		t.Fatalf("expected forward page to hold %d keys, got %d", len(wantNew), newPage.Count())
	}
	first, err := newPage.ItemAt(0, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(first.Key) != "4" {
		t.Fatalf("expected forward page to start with 4, got %s", first.Key)
	}
}

// TestRouteChildRoutesSeparatorEqualKeyLeft exercises the routing half of the
// same convention: a key equal to an inner separator must route to the
// separator's own Left child, since that child's subtree is exactly where
// the spec's invariant says a key equal to the separator lives.
func TestRouteChildRoutesSeparatorEqualKeyLeft(t *testing.T) {
	buf := make([]byte, 4096)
	page := InitPage(buf, 10, TypeInner, 0)
	if err := page.InsertAt(0, &Item{Key: []byte("3"), Left: 100}, false); err != nil {
		t.Fatal(err)
	}
	page.SetRightmostChild(200)

	childID, err := routeChild(page, []byte("3"), false)
	if err != nil {
		t.Fatal(err)
	}
	if childID != 100 {
		t.Fatalf("expected a key equal to the separator to route left (100), got %d", childID)
	}

	childID, err = routeChild(page, []byte("4"), false)
	if err != nil {
		t.Fatal(err)
	}
	if childID != 200 {
		t.Fatalf("expected a key above the separator to route right (200), got %d", childID)
	}

	childID, err = routeChild(page, []byte("2"), false)
	if err != nil {
		t.Fatal(err)
	}
	if childID != 100 {
		t.Fatalf("expected a key below the separator to route left (100), got %d", childID)
	}
}
