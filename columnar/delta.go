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

// DeltaColumn stores int64 values as RLE over first differences. The slab
// weight's Pos field accumulates deltas, so the absolute value at a slab
// boundary is known without decoding earlier slabs. Null cells do not
// advance the accumulator.
type DeltaColumn struct {
	rle *RLE[int64]
}

func deltaWeigher(r run[int64]) Weight {
	w := Weight{Count: r.count}
	if !r.cell.Null {
		w.Pos = int64(r.count) * r.cell.Val
	}
	return w
}

func NewDeltaColumn(name string) *DeltaColumn {
	return &DeltaColumn{&RLE[int64]{name, NewSpanTree(), intCoder{}, deltaWeigher}}
}

func (c *DeltaColumn) Name() string { return c.rle.name }
func (c *DeltaColumn) Len() int     { return c.rle.Len() }

// Nth returns the absolute value at index n.
func (c *DeltaColumn) Nth(n int) (Cell[int64], bool) {
	if n < 0 || n >= c.Len() {
		return Cell[int64]{}, false
	}
	_, before, s := c.rle.tree.LocateCount(n)
	acc := before.Pos
	rel := n - before.Count
	for _, r := range c.rle.decodeSlab(s) {
		if r.cell.Null {
			if rel < r.count {
				return Cell[int64]{Null: true}, true
			}
		} else {
			if rel < r.count {
				return Value(acc + int64(rel+1)*r.cell.Val), true
			}
			acc += int64(r.count) * r.cell.Val
		}
		rel -= r.count
	}
	return Cell[int64]{}, false
}

// Splice edits the column in absolute-value space. Only the touched slabs
// and the first following cell (whose delta changes) are re-encoded.
func (c *DeltaColumn) Splice(idx, del int, cells []Cell[int64]) *DeltaColumn {
	if idx < 0 || del < 0 || idx+del > c.Len() {
		panic(ReadError{c.rle.name, "splice out of range"})
	}
	firstIdx := 0
	var before Weight
	if c.rle.tree.NumSlabs() > 0 {
		firstIdx, before, _ = c.rle.tree.LocateCount(idx)
	}
	// collect candidate slabs, then decode until the deletion range plus a
	// non-null anchor cell behind it is covered. The anchor pins the
	// absolute base of every slab we leave untouched.
	var tail []*Slab
	i := 0
	c.rle.tree.Walk(func(_ Weight, s *Slab) bool {
		if i >= firstIdx {
			tail = append(tail, s)
		}
		i++
		return true
	})
	var abs []Cell[int64]
	acc := before.Pos
	covered := before.Count
	nslabs := 0
	anchored := func() bool {
		if covered < idx+del {
			return false
		}
		if covered >= c.Len() {
			return true
		}
		for k := idx + del - before.Count; k < len(abs); k++ {
			if !abs[k].Null {
				return true
			}
		}
		return false
	}
	for _, s := range tail {
		for _, r := range c.rle.decodeSlab(s) {
			for j := 0; j < r.count; j++ {
				if r.cell.Null {
					abs = append(abs, Null[int64]())
				} else {
					acc += r.cell.Val
					abs = append(abs, Value(acc))
				}
			}
		}
		covered += s.weight.Count
		nslabs++
		if anchored() {
			break
		}
	}
	// splice
	rel := idx - before.Count
	edited := make([]Cell[int64], 0, len(abs)-del+len(cells))
	edited = append(edited, abs[:rel]...)
	edited = append(edited, cells...)
	edited = append(edited, abs[rel+del:]...)
	// back to deltas, base = accumulated value before the region
	acc = before.Pos
	dr := make([]run[int64], 0, len(edited))
	for _, cl := range edited {
		if cl.Null {
			dr = append(dr, run[int64]{1, Null[int64]()})
		} else {
			dr = append(dr, run[int64]{1, Value(cl.Val - acc)})
			acc = cl.Val
		}
	}
	newTree := c.rle.tree.Splice(firstIdx, nslabs, c.rle.encodeSlabs(dr))
	return &DeltaColumn{&RLE[int64]{c.rle.name, newTree, intCoder{}, deltaWeigher}}
}

func (c *DeltaColumn) Save(out *bytes.Buffer) { c.rle.Save(out) }

func (c *DeltaColumn) Load(data []byte) (*DeltaColumn, error) {
	rle, err := c.rle.Load(data)
	if err != nil {
		return nil, err
	}
	return &DeltaColumn{rle}, nil
}

// DeltaIter yields absolute values in order.
type DeltaIter struct {
	inner *RLEIter[int64]
	acc   int64
}

func (c *DeltaColumn) Iter() *DeltaIter {
	return &DeltaIter{inner: c.rle.Iter()}
}

func (it *DeltaIter) Next() (Cell[int64], bool) {
	cl, ok := it.inner.Next()
	if !ok || cl.Null {
		return cl, ok
	}
	it.acc += cl.Val
	return Value(it.acc), true
}

func (it *DeltaIter) Index() int { return it.inner.Index() }
