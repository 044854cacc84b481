package columnar

import (
	"bytes"
	"testing"
)

// buildIntColumn splices values one batch at a time like the op-set does.
func buildIntColumn(t *testing.T, cells []Cell[int64]) *RLE[int64] {
	t.Helper()
	c := NewIntColumn("test")
	return c.Splice(0, 0, cells)
}

func intCells(vals ...int64) []Cell[int64] {
	out := make([]Cell[int64], len(vals))
	for i, v := range vals {
		out[i] = Value(v)
	}
	return out
}

func assertNth(t *testing.T, c *RLE[int64], n int, want Cell[int64], ctx string) {
	t.Helper()
	got, ok := c.Nth(n)
	if !ok {
		t.Errorf("%s: Nth(%d) out of range", ctx, n)
		return
	}
	if got != want {
		t.Errorf("%s: Nth(%d) = %v, want %v", ctx, n, got, want)
	}
}

func TestIntColumnBasic(t *testing.T) {
	c := buildIntColumn(t, intCells(5, 5, 5, 9, 9, 1))
	if c.Len() != 6 {
		t.Fatalf("len = %d, want 6", c.Len())
	}
	assertNth(t, c, 0, Value[int64](5), "basic")
	assertNth(t, c, 2, Value[int64](5), "basic")
	assertNth(t, c, 3, Value[int64](9), "basic")
	assertNth(t, c, 5, Value[int64](1), "basic")
}

func TestIntColumnSpliceMiddle(t *testing.T) {
	c := buildIntColumn(t, intCells(1, 2, 3, 4, 5))
	c2 := c.Splice(2, 1, intCells(30, 31))
	if c2.Len() != 6 {
		t.Fatalf("len = %d, want 6", c2.Len())
	}
	want := []int64{1, 2, 30, 31, 4, 5}
	for i, v := range want {
		assertNth(t, c2, i, Value(v), "splice")
	}
	// the old column is untouched (persistent tree)
	if c.Len() != 5 {
		t.Errorf("original len changed to %d", c.Len())
	}
	assertNth(t, c, 2, Value[int64](3), "persistence")
}

func TestIntColumnNulls(t *testing.T) {
	cells := []Cell[int64]{Value[int64](7), Null[int64](), Null[int64](), Value[int64](7)}
	c := buildIntColumn(t, cells)
	assertNth(t, c, 1, Null[int64](), "nulls")
	assertNth(t, c, 3, Value[int64](7), "nulls")
}

func TestIntColumnSaveLoadRoundtrip(t *testing.T) {
	c := buildIntColumn(t, intCells(1, 1, 1, 2, 3, 4, 4, 4, 4, 100, -5))
	c = c.Splice(4, 0, []Cell[int64]{Null[int64]()})
	var buf bytes.Buffer
	c.Save(&buf)
	c2, err := NewIntColumn("test").Load(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if c2.Len() != c.Len() {
		t.Fatalf("len = %d, want %d", c2.Len(), c.Len())
	}
	for i := 0; i < c.Len(); i++ {
		a, _ := c.Nth(i)
		b, _ := c2.Nth(i)
		if a != b {
			t.Errorf("idx %d: %v != %v", i, a, b)
		}
	}
	// canonical: saving again yields the same bytes
	var buf2 bytes.Buffer
	c2.Save(&buf2)
	if !bytes.Equal(buf.Bytes(), buf2.Bytes()) {
		t.Error("save is not canonical")
	}
}

func TestIntColumnManySlabs(t *testing.T) {
	c := NewIntColumn("test")
	n := 5000
	cells := make([]Cell[int64], n)
	for i := range cells {
		cells[i] = Value(int64(i * 7 % 1000))
	}
	c = c.Splice(0, 0, cells)
	if c.tree.NumSlabs() < 2 {
		t.Fatalf("expected several slabs, got %d", c.tree.NumSlabs())
	}
	for _, i := range []int{0, 1, 999, 2500, n - 1} {
		assertNth(t, c, i, Value(int64(i*7%1000)), "many-slabs")
	}
}

func TestStringColumn(t *testing.T) {
	c := NewStringColumn("test")
	c = c.Splice(0, 0, []Cell[string]{
		Value("bird"), Value("bird"), Value("magpie"), Null[string](),
	})
	got, _ := c.Nth(2)
	if got.Val != "magpie" {
		t.Errorf("Nth(2) = %q", got.Val)
	}
	var buf bytes.Buffer
	c.Save(&buf)
	c2, err := NewStringColumn("test").Load(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	got, _ = c2.Nth(3)
	if !got.Null {
		t.Error("Nth(3) should be null after roundtrip")
	}
}

func TestGroupColumnPositions(t *testing.T) {
	// group sizes 2, 0, 3 -> companion column positions 0, 2, 2, end 5
	c := NewGroupColumn("succ")
	c = c.Splice(0, 0, []Cell[uint64]{Value[uint64](2), Value[uint64](0), Value[uint64](3)})
	if p := GroupPos(c, 0); p != 0 {
		t.Errorf("GroupPos(0) = %d", p)
	}
	if p := GroupPos(c, 1); p != 2 {
		t.Errorf("GroupPos(1) = %d", p)
	}
	if p := GroupPos(c, 2); p != 2 {
		t.Errorf("GroupPos(2) = %d", p)
	}
	if p := GroupPos(c, 3); p != 5 {
		t.Errorf("GroupPos(3) = %d", p)
	}
}

func TestMetaColumnOffsets(t *testing.T) {
	// lengths 3, 0, 5 -> raw offsets 0, 3, 3
	c := NewMetaColumn("meta")
	c = c.Splice(0, 0, []Cell[uint64]{
		Value(MetaCode(MetaStr, 3)), Value(MetaCode(MetaNull, 0)), Value(MetaCode(MetaBytes, 5)),
	})
	if p := GroupPos(c, 2); p != 3 {
		t.Errorf("GroupPos(2) = %d", p)
	}
	if p := GroupPos(c, 3); p != 8 {
		t.Errorf("GroupPos(3) = %d", p)
	}
}

func TestSeekToValue(t *testing.T) {
	c := buildIntColumn(t, intCells(1, 3, 3, 3, 7, 9))
	asInt := func(cl Cell[int64]) int64 { return cl.Val }
	lo, hi := c.SeekToValue(3, 0, c.Len(), asInt)
	if lo != 1 || hi != 4 {
		t.Errorf("seek 3: [%d,%d), want [1,4)", lo, hi)
	}
	lo, hi = c.SeekToValue(8, 0, c.Len(), asInt)
	if lo != hi {
		t.Errorf("seek absent: [%d,%d), want empty", lo, hi)
	}
}

func TestIterShiftNext(t *testing.T) {
	c := buildIntColumn(t, intCells(0, 1, 2, 3, 4, 5, 6, 7))
	it := c.Iter()
	cl, ok := it.ShiftNext(5)
	if !ok || cl.Val != 5 {
		t.Fatalf("ShiftNext(5) = %v %v", cl, ok)
	}
	cl, ok = it.Next()
	if !ok || cl.Val != 6 {
		t.Fatalf("Next = %v %v", cl, ok)
	}
	// already past the bound: behaves like Next
	cl, ok = it.ShiftNext(3)
	if !ok || cl.Val != 7 {
		t.Fatalf("ShiftNext(3) = %v %v", cl, ok)
	}
}
