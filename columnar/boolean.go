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

// BoolColumn encodes booleans as alternating uLEB run lengths starting with
// false. Every slab restarts at false (a leading zero-length run when the
// slab begins with true). The Group weight counts set bits.
type BoolColumn struct {
	name string
	tree *SpanTree
}

func NewBoolColumn(name string) *BoolColumn {
	return &BoolColumn{name, NewSpanTree()}
}

func (c *BoolColumn) Name() string { return c.name }
func (c *BoolColumn) Len() int     { return c.tree.Len() }

// CountSet is the number of true cells in the whole column.
func (c *BoolColumn) CountSet() int { return c.tree.Weight().Group }

type boolRun struct {
	count int
	val   bool
}

func decodeBoolRuns(name string, data []byte) []boolRun {
	var runs []boolRun
	pos := 0
	val := false
	for pos < len(data) {
		n, p, ok := Uleb(data, pos)
		if !ok {
			panic(errTruncated(name))
		}
		pos = p
		if n > 0 {
			runs = append(runs, boolRun{int(n), val})
		}
		val = !val
	}
	return runs
}

func encodeBoolSlabs(runs []boolRun) []*Slab {
	// merge equal neighbours
	merged := runs[:0]
	for _, r := range runs {
		if r.count == 0 {
			continue
		}
		if len(merged) > 0 && merged[len(merged)-1].val == r.val {
			merged[len(merged)-1].count += r.count
			continue
		}
		merged = append(merged, r)
	}
	var slabs []*Slab
	var buf bytes.Buffer
	var w Weight
	expect := false // polarity the next written run stands for
	cut := func() {
		if buf.Len() == 0 {
			return
		}
		data := make([]byte, buf.Len())
		copy(data, buf.Bytes())
		slabs = append(slabs, &Slab{data, w})
		buf.Reset()
		w = Weight{}
		expect = false
	}
	for _, r := range merged {
		if r.val != expect {
			PutUleb(&buf, 0) // zero-length run flips polarity
			expect = r.val
		}
		PutUleb(&buf, uint64(r.count))
		w.Count += r.count
		if r.val {
			w.Group += r.count
		}
		expect = !expect
		if buf.Len() >= slabTarget {
			cut()
		}
	}
	cut()
	return slabs
}

func (c *BoolColumn) Nth(n int) (bool, bool) {
	if n < 0 || n >= c.Len() {
		return false, false
	}
	_, before, s := c.tree.LocateCount(n)
	rel := n - before.Count
	for _, r := range decodeBoolRuns(c.name, s.data) {
		if rel < r.count {
			return r.val, true
		}
		rel -= r.count
	}
	return false, false
}

func (c *BoolColumn) Splice(idx, del int, vals []bool) *BoolColumn {
	if idx < 0 || del < 0 || idx+del > c.Len() {
		panic(ReadError{c.name, "splice out of range"})
	}
	firstIdx := 0
	var before Weight
	if c.tree.NumSlabs() > 0 {
		firstIdx, before, _ = c.tree.LocateCount(idx)
	}
	var runs []boolRun
	covered := before.Count
	nslabs := 0
	i := 0
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		if i >= firstIdx {
			runs = append(runs, decodeBoolRuns(c.name, s.data)...)
			covered += s.weight.Count
			nslabs++
			if covered >= idx+del {
				return false
			}
		}
		i++
		return true
	})
	var edited []boolRun
	pos := before.Count
	inserted := false
	insert := func() {
		for _, v := range vals {
			edited = append(edited, boolRun{1, v})
		}
		inserted = true
	}
	for _, r := range runs {
		if pos+r.count <= idx {
			edited = append(edited, r)
			pos += r.count
			continue
		}
		if pos < idx {
			edited = append(edited, boolRun{idx - pos, r.val})
		}
		if !inserted {
			insert()
		}
		start := idx + del
		if pos < start {
			if pos+r.count > start {
				edited = append(edited, boolRun{pos + r.count - start, r.val})
			}
		} else {
			edited = append(edited, r)
		}
		pos += r.count
	}
	if !inserted {
		insert()
	}
	newTree := c.tree.Splice(firstIdx, nslabs, encodeBoolSlabs(edited))
	return &BoolColumn{c.name, newTree}
}

// Save writes the canonical alternating-run encoding of the whole column.
func (c *BoolColumn) Save(out *bytes.Buffer) {
	var all []boolRun
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		all = append(all, decodeBoolRuns(c.name, s.data)...)
		return true
	})
	merged := all[:0]
	for _, r := range all {
		if r.count == 0 {
			continue
		}
		if len(merged) > 0 && merged[len(merged)-1].val == r.val {
			merged[len(merged)-1].count += r.count
			continue
		}
		merged = append(merged, r)
	}
	val := false
	for _, r := range merged {
		if r.val != val {
			PutUleb(out, 0)
			val = r.val
		}
		PutUleb(out, uint64(r.count))
		val = !val
	}
}

func (c *BoolColumn) Load(data []byte) (col *BoolColumn, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				col, err = nil, re
			} else {
				panic(r)
			}
		}
	}()
	runs := decodeBoolRuns(c.name, data)
	tree := NewSpanTree().Splice(0, 0, encodeBoolSlabs(runs))
	return &BoolColumn{c.name, tree}, nil
}

// BoolIter yields cells in order.
type BoolIter struct {
	runs []boolRun
	ri   int
	off  int
	idx  int
}

func (c *BoolColumn) Iter() *BoolIter {
	var all []boolRun
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		all = append(all, decodeBoolRuns(c.name, s.data)...)
		return true
	})
	return &BoolIter{runs: all}
}

func (it *BoolIter) Next() (bool, bool) {
	for it.ri < len(it.runs) && it.off >= it.runs[it.ri].count {
		it.ri++
		it.off = 0
	}
	if it.ri >= len(it.runs) {
		return false, false
	}
	v := it.runs[it.ri].val
	it.off++
	it.idx++
	return v, true
}

func (it *BoolIter) Index() int { return it.idx - 1 }
