package qb

import (
	"path/filepath"
	"testing"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qb")
	if err := Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func item(name string, priority int32, msgNumber int64) *Item {
	it := &Item{Priority: priority, MsgNumber: msgNumber}
	it.SetName(name)
	return it
}

func names(t *testing.T, tbl *Table) []string {
	t.Helper()
	out := make([]string, tbl.Len())
	for i := range out {
		it, err := tbl.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		out[i] = it.Name()
	}
	return out
}

func TestItemEncodeDecodeRoundTrip(t *testing.T) {
	it := item("abc_def_0", 1, 1000)
	it.SpecialFlag = FetchJob
	it.FilesToSend = 5
	rec := it.Encode()
	if len(rec) != RecordSize {
		t.Fatalf("Encode len = %d, want %d", len(rec), RecordSize)
	}
	var got Item
	if err := got.Decode(rec); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name() != "abc_def_0" || !got.IsFetchJob() || got.FilesToSend != 5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLessOrdering(t *testing.T) {
	a := item("a", 1, 100)
	b := item("b", 2, 50)
	if !Less(a, b) {
		t.Fatal("lower priority should sort first regardless of msg_number")
	}
	c := item("c", 1, 50)
	if !Less(c, a) {
		t.Fatal("equal priority should fall back to msg_number ascending")
	}
}

func TestInsertKeepsSortedOrder(t *testing.T) {
	tbl := newTable(t)
	order := []struct {
		name     string
		priority int32
		msgNum   int64
	}{
		{"c", 3, 1},
		{"a", 1, 1},
		{"b", 2, 1},
		{"a2", 1, 0}, // same priority as "a", earlier msg_number
	}
	for _, o := range order {
		if _, err := tbl.Insert(item(o.name, o.priority, o.msgNum)); err != nil {
			t.Fatalf("Insert(%s): %v", o.name, err)
		}
	}
	got := names(t, tbl)
	want := []string{"a2", "a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

// TestRemoveAtCompaction verifies P4 (queue compaction): after
// remove_msg(i), the queue holds the original items minus i, in
// original order, with length n-1.
func TestRemoveAtCompaction(t *testing.T) {
	tbl := newTable(t)
	for i, n := range []string{"a", "b", "c", "d"} {
		it := item(n, int32(i), int64(i))
		if _, err := tbl.Insert(it); err != nil {
			t.Fatalf("Insert(%s): %v", n, err)
		}
	}
	before := names(t, tbl)
	n := tbl.Len()

	removePos := tbl.Find("b")
	if removePos < 0 {
		t.Fatal("Find(b) should locate the inserted item")
	}
	if err := tbl.RemoveAt(removePos); err != nil {
		t.Fatalf("RemoveAt: %v", err)
	}

	if tbl.Len() != n-1 {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), n-1)
	}
	after := names(t, tbl)
	wantIdx := 0
	for _, name := range before {
		if name == "b" {
			continue
		}
		if after[wantIdx] != name {
			t.Fatalf("after removal = %v, want original order minus 'b' (%v)", after, before)
		}
		wantIdx++
	}
}

func TestRemoveAtOutOfRange(t *testing.T) {
	tbl := newTable(t)
	if err := tbl.RemoveAt(0); err == nil {
		t.Fatal("RemoveAt on an empty table should error")
	}
}

func TestFindMissingReturnsNegativeOne(t *testing.T) {
	tbl := newTable(t)
	if pos := tbl.Find("nope"); pos != -1 {
		t.Fatalf("Find on empty table = %d, want -1", pos)
	}
}

func TestInsertGrowsInMsgQueBufSizeBuckets(t *testing.T) {
	tbl := newTable(t)
	for i := 0; i < MsgQueBufSize+1; i++ {
		it := item("m", int32(i), int64(i))
		if _, err := tbl.Insert(it); err != nil {
			t.Fatalf("Insert[%d]: %v", i, err)
		}
	}
	if tbl.Len() != MsgQueBufSize+1 {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), MsgQueBufSize+1)
	}
}
