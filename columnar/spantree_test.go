package columnar

import (
	"bytes"
	"testing"
)

func TestLeb128Roundtrip(t *testing.T) {
	uvals := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1}
	for _, v := range uvals {
		var b bytes.Buffer
		PutUleb(&b, v)
		got, n, ok := Uleb(b.Bytes(), 0)
		if !ok || got != v || n != b.Len() {
			t.Errorf("uleb %d: got %d n=%d ok=%v", v, got, n, ok)
		}
	}
	svals := []int64{0, 1, -1, 63, 64, -64, -65, 1 << 40, -(1 << 40), -9223372036854775808}
	for _, v := range svals {
		var b bytes.Buffer
		PutSleb(&b, v)
		got, n, ok := Sleb(b.Bytes(), 0)
		if !ok || got != v || n != b.Len() {
			t.Errorf("sleb %d: got %d n=%d ok=%v", v, got, n, ok)
		}
	}
}

func TestSlebTruncated(t *testing.T) {
	var b bytes.Buffer
	PutSleb(&b, 1<<40)
	_, _, ok := Sleb(b.Bytes()[:2], 0)
	if ok {
		t.Error("expected truncation failure")
	}
}

func slabOf(n int) *Slab {
	return &Slab{make([]byte, n), Weight{Count: n}}
}

func TestSpanTreeSpliceAndWalk(t *testing.T) {
	tr := NewSpanTree()
	for i := 0; i < 100; i++ {
		tr = tr.Append(slabOf(10))
	}
	if tr.NumSlabs() != 100 || tr.Len() != 1000 {
		t.Fatalf("nslabs=%d len=%d", tr.NumSlabs(), tr.Len())
	}
	// running weights are cumulative
	expect := 0
	tr.Walk(func(before Weight, s *Slab) bool {
		if before.Count != expect {
			t.Fatalf("before.Count = %d, want %d", before.Count, expect)
		}
		expect += s.weight.Count
		return true
	})
	// locate
	idx, before, s := tr.LocateCount(555)
	if idx != 55 || before.Count != 550 || s == nil {
		t.Fatalf("locate 555: idx=%d before=%d", idx, before.Count)
	}
	// replace a middle slab
	tr2 := tr.Splice(50, 2, []*Slab{slabOf(5)})
	if tr2.NumSlabs() != 99 || tr2.Len() != 985 {
		t.Fatalf("after splice: nslabs=%d len=%d", tr2.NumSlabs(), tr2.Len())
	}
	// the original is unchanged
	if tr.NumSlabs() != 100 || tr.Len() != 1000 {
		t.Fatal("original tree was mutated")
	}
}

func TestSpanTreeDeepSharing(t *testing.T) {
	tr := NewSpanTree()
	var slabs []*Slab
	for i := 0; i < 2000; i++ {
		slabs = append(slabs, slabOf(1))
	}
	tr = tr.Splice(0, 0, slabs)
	tr2 := tr.Splice(1000, 1, []*Slab{slabOf(3)})
	if tr2.Len() != tr.Len()+2 {
		t.Fatalf("len = %d, want %d", tr2.Len(), tr.Len()+2)
	}
	// untouched slabs are shared by pointer
	_, a := tr.SlabAt(0)
	_, b := tr2.SlabAt(0)
	if a != b {
		t.Error("leading slab not shared")
	}
	_, a = tr.SlabAt(1999)
	_, b = tr2.SlabAt(1999)
	if a != b {
		t.Error("trailing slab not shared")
	}
}

func TestBoolColumn(t *testing.T) {
	c := NewBoolColumn("insert")
	c = c.Splice(0, 0, []bool{false, false, true, true, true, false})
	if c.Len() != 6 || c.CountSet() != 3 {
		t.Fatalf("len=%d set=%d", c.Len(), c.CountSet())
	}
	v, ok := c.Nth(2)
	if !ok || !v {
		t.Error("Nth(2) should be true")
	}
	c2 := c.Splice(2, 1, []bool{false})
	if c2.CountSet() != 2 {
		t.Errorf("set = %d, want 2", c2.CountSet())
	}
	var buf bytes.Buffer
	c2.Save(&buf)
	c3, err := NewBoolColumn("insert").Load(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < c2.Len(); i++ {
		a, _ := c2.Nth(i)
		b, _ := c3.Nth(i)
		if a != b {
			t.Errorf("idx %d: %v != %v", i, a, b)
		}
	}
}

func TestDeltaColumn(t *testing.T) {
	c := NewDeltaColumn("ctr")
	c = c.Splice(0, 0, intCells(1, 2, 3, 4, 10, 11, 12))
	for i, want := range []int64{1, 2, 3, 4, 10, 11, 12} {
		got, ok := c.Nth(i)
		if !ok || got.Val != want {
			t.Errorf("Nth(%d) = %v, want %d", i, got, want)
		}
	}
	// insert in the middle; following values keep their absolute value
	c2 := c.Splice(4, 0, intCells(100))
	for i, want := range []int64{1, 2, 3, 4, 100, 10, 11, 12} {
		got, _ := c2.Nth(i)
		if got.Val != want {
			t.Errorf("after insert: Nth(%d) = %v, want %d", i, got, want)
		}
	}
	var buf bytes.Buffer
	c2.Save(&buf)
	c3, err := NewDeltaColumn("ctr").Load(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	it := c3.Iter()
	for i, want := range []int64{1, 2, 3, 4, 100, 10, 11, 12} {
		got, ok := it.Next()
		if !ok || got.Val != want {
			t.Errorf("iter %d = %v, want %d", i, got, want)
		}
	}
}

func TestDeltaColumnNullTail(t *testing.T) {
	c := NewDeltaColumn("ctr")
	c = c.Splice(0, 0, []Cell[int64]{
		Value[int64](10), Null[int64](), Null[int64](), Value[int64](20),
	})
	// delete the only leading non-null; the tail keeps its value
	c2 := c.Splice(0, 1, nil)
	got, _ := c2.Nth(2)
	if got.Null || got.Val != 20 {
		t.Errorf("tail = %v, want 20", got)
	}
}

func TestRawColumn(t *testing.T) {
	c := NewRawColumn("value")
	c = c.Splice(0, 0, []byte("helloworld"))
	if got := string(c.ReadAt(5, 5)); got != "world" {
		t.Errorf("ReadAt = %q", got)
	}
	c2 := c.Splice(5, 5, []byte("there"))
	if got := string(c2.ReadAt(0, 10)); got != "hellothere" {
		t.Errorf("after splice = %q", got)
	}
	var buf bytes.Buffer
	c2.Save(&buf)
	if buf.String() != "hellothere" {
		t.Errorf("save = %q", buf.String())
	}
}
