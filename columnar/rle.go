/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package columnar

import "bytes"
import "sort"

// Run-length encoding over a slab tree. A slab body is a sequence of runs:
// sLEB count > 0: one value follows, repeated count times
// sLEB count < 0: -count literal values follow
// sLEB count = 0: a uLEB run of nulls follows
// Runs never carry across a slab boundary.

// Cell is one logical column element.
type Cell[V comparable] struct {
	Val  V
	Null bool
}

func Null[V comparable]() Cell[V] { return Cell[V]{Null: true} }
func Value[V comparable](v V) Cell[V] { return Cell[V]{Val: v} }

type run[V comparable] struct {
	count int
	cell  Cell[V]
}

// coder reads and writes single values of a column's value type.
type coder[V comparable] interface {
	put(b *bytes.Buffer, v V)
	get(data []byte, pos int) (V, int, bool)
}

type intCoder struct{}

func (intCoder) put(b *bytes.Buffer, v int64) { PutSleb(b, v) }
func (intCoder) get(data []byte, pos int) (int64, int, bool) {
	return Sleb(data, pos)
}

type uintCoder struct{}

func (uintCoder) put(b *bytes.Buffer, v uint64) { PutUleb(b, v) }
func (uintCoder) get(data []byte, pos int) (uint64, int, bool) {
	return Uleb(data, pos)
}

type strCoder struct{}

func (strCoder) put(b *bytes.Buffer, v string) {
	PutUleb(b, uint64(len(v)))
	b.WriteString(v)
}
func (strCoder) get(data []byte, pos int) (string, int, bool) {
	l, pos, ok := Uleb(data, pos)
	if !ok || pos+int(l) > len(data) {
		return "", pos, false
	}
	return string(data[pos : pos+int(l)]), pos + int(l), true
}

// weigher computes the extra (non-Count) weight a run contributes.
type weigher[V comparable] func(r run[V]) Weight

func plainWeigher[V comparable](r run[V]) Weight {
	return Weight{Count: r.count}
}

// groupWeigher sums uint64 values so group columns can translate group
// indexes into positions of their grouped companion columns.
func groupWeigher(r run[uint64]) Weight {
	w := Weight{Count: r.count}
	if !r.cell.Null {
		w.Group = r.count * int(r.cell.Val)
	}
	return w
}

// RLE is a run-length encoded column of V cells over a persistent slab tree.
type RLE[V comparable] struct {
	name  string
	tree  *SpanTree
	c     coder[V]
	weigh weigher[V]
}

func NewIntColumn(name string) *RLE[int64] {
	return &RLE[int64]{name, NewSpanTree(), intCoder{}, plainWeigher[int64]}
}

func NewUintColumn(name string) *RLE[uint64] {
	return &RLE[uint64]{name, NewSpanTree(), uintCoder{}, plainWeigher[uint64]}
}

func NewGroupColumn(name string) *RLE[uint64] {
	return &RLE[uint64]{name, NewSpanTree(), uintCoder{}, groupWeigher}
}

func NewStringColumn(name string) *RLE[string] {
	return &RLE[string]{name, NewSpanTree(), strCoder{}, plainWeigher[string]}
}

func (c *RLE[V]) Name() string { return c.name }
func (c *RLE[V]) Len() int     { return c.tree.Len() }

// GroupWeight is the summed group weight of the whole column.
func (c *RLE[V]) GroupWeight() int { return c.tree.Weight().Group }

func (c *RLE[V]) decodeSlab(s *Slab) []run[V] {
	return decodeRuns(c.name, c.c, s.data)
}

func decodeRuns[V comparable](name string, cdr coder[V], data []byte) []run[V] {
	var runs []run[V]
	pos := 0
	for pos < len(data) {
		n, p, ok := Sleb(data, pos)
		if !ok {
			panic(errTruncated(name))
		}
		pos = p
		if n > 0 {
			v, p, ok := cdr.get(data, pos)
			if !ok {
				panic(errTruncated(name))
			}
			pos = p
			runs = append(runs, run[V]{int(n), Cell[V]{Val: v}})
		} else if n < 0 {
			for i := int64(0); i < -n; i++ {
				v, p, ok := cdr.get(data, pos)
				if !ok {
					panic(errTruncated(name))
				}
				pos = p
				runs = append(runs, run[V]{1, Cell[V]{Val: v}})
			}
		} else {
			nulls, p, ok := Uleb(data, pos)
			if !ok {
				panic(errTruncated(name))
			}
			pos = p
			runs = append(runs, run[V]{int(nulls), Cell[V]{Null: true}})
		}
	}
	return runs
}

// encodeSlabs writes runs canonically (merging equal neighbours, batching
// singleton runs into literal blocks) and splits the output into slabs of
// about slabTarget bytes, cutting only at run boundaries.
func (c *RLE[V]) encodeSlabs(runs []run[V]) []*Slab {
	runs = mergeRuns(runs)
	var slabs []*Slab
	var buf bytes.Buffer
	var w Weight
	var lit []V // pending literal block
	flushLit := func() {
		if len(lit) == 0 {
			return
		}
		PutSleb(&buf, int64(-len(lit)))
		for _, v := range lit {
			c.c.put(&buf, v)
		}
		lit = lit[:0]
	}
	cut := func() {
		flushLit()
		if buf.Len() == 0 {
			return
		}
		data := make([]byte, buf.Len())
		copy(data, buf.Bytes())
		slabs = append(slabs, &Slab{data, w})
		buf.Reset()
		w = Weight{}
	}
	for _, r := range runs {
		if r.count == 0 {
			continue
		}
		if r.cell.Null {
			flushLit()
			PutSleb(&buf, 0)
			PutUleb(&buf, uint64(r.count))
		} else if r.count == 1 {
			lit = append(lit, r.cell.Val)
		} else {
			flushLit()
			PutSleb(&buf, int64(r.count))
			c.c.put(&buf, r.cell.Val)
		}
		w = w.add(c.weigh(r))
		if buf.Len()+len(lit)*4 >= slabTarget {
			cut()
		}
	}
	cut()
	return slabs
}

func mergeRuns[V comparable](runs []run[V]) []run[V] {
	out := runs[:0]
	for _, r := range runs {
		if r.count == 0 {
			continue
		}
		if len(out) > 0 && out[len(out)-1].cell == r.cell {
			out[len(out)-1].count += r.count
			continue
		}
		out = append(out, r)
	}
	return out
}

// Nth returns the n-th cell. O(log N) via slab weights.
func (c *RLE[V]) Nth(n int) (Cell[V], bool) {
	if n < 0 || n >= c.Len() {
		return Cell[V]{}, false
	}
	_, before, s := c.tree.LocateCount(n)
	rel := n - before.Count
	for _, r := range c.decodeSlab(s) {
		if rel < r.count {
			return r.cell, true
		}
		rel -= r.count
	}
	return Cell[V]{}, false
}

// Splice deletes del cells at idx and inserts cells, preserving canonical
// run form at the edit boundaries. Returns the new column; the receiver is
// unchanged (persistent tree).
func (c *RLE[V]) Splice(idx, del int, cells []Cell[V]) *RLE[V] {
	if idx < 0 || del < 0 || idx+del > c.Len() {
		panic(ReadError{c.name, "splice out of range"})
	}
	// find the slab range covering [idx, idx+del]
	firstIdx := 0
	var before Weight
	if c.tree.NumSlabs() > 0 {
		firstIdx, before, _ = c.tree.LocateCount(idx)
	}
	// decode slabs until the deletion range is covered
	var runs []run[V]
	covered := before.Count
	nslabs := 0
	c.Walk(firstIdx, func(s *Slab) bool {
		runs = append(runs, c.decodeSlab(s)...)
		covered += s.weight.Count
		nslabs++
		return covered < idx+del
	})
	// splice at run level
	edited := spliceRuns(runs, idx-before.Count, del, cells)
	newTree := c.tree.Splice(firstIdx, nslabs, c.encodeSlabs(edited))
	return &RLE[V]{c.name, newTree, c.c, c.weigh}
}

// Walk iterates slabs starting at slab index from.
func (c *RLE[V]) Walk(from int, f func(s *Slab) bool) {
	i := 0
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		if i >= from {
			if !f(s) {
				return false
			}
		}
		i++
		return true
	})
}

func spliceRuns[V comparable](runs []run[V], at, del int, cells []Cell[V]) []run[V] {
	var out []run[V]
	pos := 0
	inserted := false
	for _, r := range runs {
		if pos+r.count <= at {
			out = append(out, r)
			pos += r.count
			continue
		}
		// head of the run before the splice point
		if pos < at {
			out = append(out, run[V]{at - pos, r.cell})
		}
		if !inserted {
			for _, cl := range cells {
				out = append(out, run[V]{1, cl})
			}
			inserted = true
		}
		// remainder of this run after deletion
		start := at + del
		if pos < start {
			if pos+r.count > start {
				out = append(out, run[V]{pos + r.count - start, r.cell})
			}
		} else {
			out = append(out, r)
		}
		pos += r.count
	}
	if !inserted {
		for _, cl := range cells {
			out = append(out, run[V]{1, cl})
		}
	}
	return out
}

// Save writes the canonical byte encoding: all runs re-merged across slab
// boundaries, so the output is independent of edit history.
func (c *RLE[V]) Save(out *bytes.Buffer) {
	var all []run[V]
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		all = append(all, c.decodeSlab(s)...)
		return true
	})
	all = mergeRuns(all)
	var lit []V
	flushLit := func() {
		if len(lit) == 0 {
			return
		}
		PutSleb(out, int64(-len(lit)))
		for _, v := range lit {
			c.c.put(out, v)
		}
		lit = lit[:0]
	}
	for _, r := range all {
		if r.cell.Null {
			flushLit()
			PutSleb(out, 0)
			PutUleb(out, uint64(r.count))
		} else if r.count == 1 {
			lit = append(lit, r.cell.Val)
		} else {
			flushLit()
			PutSleb(out, int64(r.count))
			c.c.put(out, r.cell.Val)
		}
	}
	flushLit()
}

// Load replaces the column content with the decoded body. Round-trips with
// Save. Returns a ReadError on malformed input.
func (c *RLE[V]) Load(data []byte) (col *RLE[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				col, err = nil, re
			} else {
				panic(r)
			}
		}
	}()
	runs := decodeRuns(c.name, c.c, data)
	tree := NewSpanTree().Splice(0, 0, c.encodeSlabs(runs))
	return &RLE[V]{c.name, tree, c.c, c.weigh}, nil
}

// Iter yields cells in order.
type RLEIter[V comparable] struct {
	runs []run[V] // flattened runs of the whole column
	ri   int      // current run
	off  int      // offset inside current run
	idx  int      // logical index of the next cell
}

func (c *RLE[V]) Iter() *RLEIter[V] {
	var all []run[V]
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		all = append(all, c.decodeSlab(s)...)
		return true
	})
	return &RLEIter[V]{runs: all}
}

func (it *RLEIter[V]) Next() (Cell[V], bool) {
	for it.ri < len(it.runs) && it.off >= it.runs[it.ri].count {
		it.ri++
		it.off = 0
	}
	if it.ri >= len(it.runs) {
		return Cell[V]{}, false
	}
	cl := it.runs[it.ri].cell
	it.off++
	it.idx++
	return cl, true
}

// Index is the logical index of the last returned cell.
func (it *RLEIter[V]) Index() int { return it.idx - 1 }

// ShiftNext skips forward so that the next returned cell has index >= lo,
// then returns it. Used by range-scoped scans.
func (it *RLEIter[V]) ShiftNext(lo int) (Cell[V], bool) {
	for it.idx < lo {
		skip := lo - it.idx
		if it.ri >= len(it.runs) {
			return Cell[V]{}, false
		}
		left := it.runs[it.ri].count - it.off
		if left > skip {
			it.off += skip
			it.idx += skip
		} else {
			it.off = 0
			it.idx += left
			it.ri++
		}
	}
	return it.Next()
}

// SeekToValue finds the half-open index range holding v inside [lo, hi),
// assuming the column is sorted ascending over that range under asInt.
func (c *RLE[V]) SeekToValue(v int64, lo, hi int, asInt func(Cell[V]) int64) (int, int) {
	first := lo + sort.Search(hi-lo, func(i int) bool {
		cl, _ := c.Nth(lo + i)
		return asInt(cl) >= v
	})
	last := first
	for last < hi {
		cl, _ := c.Nth(last)
		if asInt(cl) != v {
			break
		}
		last++
	}
	return first, last
}

// GroupPos translates a group-column index into the start position of that
// group inside the companion columns: the sum of the first n group sizes.
func GroupPos(c *RLE[uint64], n int) int {
	if n <= 0 {
		return 0
	}
	if n >= c.Len() {
		return c.GroupWeight()
	}
	_, before, s := c.tree.LocateCount(n)
	pos := before.Group
	rel := n - before.Count
	for _, r := range c.decodeSlab(s) {
		if rel <= 0 {
			break
		}
		k := r.count
		if k > rel {
			k = rel
		}
		pos += c.weigh(run[uint64]{k, r.cell}).Group
		rel -= k
	}
	return pos
}
