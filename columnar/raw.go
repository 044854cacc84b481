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

// RawColumn is the opaque value blob. It has no element structure of its
// own: the companion value-metadata column tells the reader how many bytes
// each element occupies. Count weight is in bytes here.
type RawColumn struct {
	name string
	tree *SpanTree
}

func NewRawColumn(name string) *RawColumn {
	return &RawColumn{name, NewSpanTree()}
}

func (c *RawColumn) Name() string { return c.name }
func (c *RawColumn) Len() int     { return c.tree.Len() }

// ReadAt copies n bytes starting at byte offset off.
func (c *RawColumn) ReadAt(off, n int) []byte {
	if n == 0 {
		return nil
	}
	if off < 0 || off+n > c.Len() {
		panic(ReadError{c.name, "read past end of value blob"})
	}
	out := make([]byte, 0, n)
	c.tree.Walk(func(before Weight, s *Slab) bool {
		end := before.Count + len(s.data)
		if end <= off {
			return true
		}
		lo := off - before.Count
		if lo < 0 {
			lo = 0
		}
		hi := off + n - before.Count
		if hi > len(s.data) {
			hi = len(s.data)
		}
		out = append(out, s.data[lo:hi]...)
		return len(out) < n
	})
	return out
}

// Splice replaces del bytes at byte offset off with data.
func (c *RawColumn) Splice(off, del int, data []byte) *RawColumn {
	if off < 0 || del < 0 || off+del > c.Len() {
		panic(ReadError{c.name, "splice out of range"})
	}
	firstIdx := 0
	var before Weight
	if c.tree.NumSlabs() > 0 {
		firstIdx, before, _ = c.tree.LocateCount(off)
	}
	var merged []byte
	covered := before.Count
	nslabs := 0
	i := 0
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		if i >= firstIdx {
			merged = append(merged, s.data...)
			covered += len(s.data)
			nslabs++
			if covered >= off+del {
				return false
			}
		}
		i++
		return true
	})
	rel := off - before.Count
	edited := make([]byte, 0, len(merged)-del+len(data))
	edited = append(edited, merged[:rel]...)
	edited = append(edited, data...)
	edited = append(edited, merged[rel+del:]...)
	var slabs []*Slab
	for len(edited) > 0 {
		n := len(edited)
		if n > slabTarget {
			n = slabTarget
		}
		chunk := make([]byte, n)
		copy(chunk, edited[:n])
		slabs = append(slabs, &Slab{chunk, Weight{Count: n}})
		edited = edited[n:]
	}
	return &RawColumn{c.name, c.tree.Splice(firstIdx, nslabs, slabs)}
}

func (c *RawColumn) Save(out *bytes.Buffer) {
	c.tree.Walk(func(_ Weight, s *Slab) bool {
		out.Write(s.data)
		return true
	})
}

func (c *RawColumn) Load(data []byte) (*RawColumn, error) {
	col := NewRawColumn(c.name)
	if len(data) == 0 {
		return col, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return col.Splice(0, 0, cp), nil
}

// Value metadata codes: an element's metadata is (length << 4) | type.
// The Group weight of a metadata column accumulates lengths, giving the
// byte offset of each element inside the raw value column.

const (
	MetaNull      = 0
	MetaFalse     = 1
	MetaTrue      = 2
	MetaUint      = 3
	MetaInt       = 4
	MetaF64       = 5
	MetaStr       = 6
	MetaBytes     = 7
	MetaCounter   = 8
	MetaTimestamp = 9
	MetaCursor    = 10
	MetaUnknown   = 11
)

func MetaCode(typ int, length int) uint64 {
	return uint64(length)<<4 | uint64(typ)
}

func MetaType(code uint64) int   { return int(code & 0xf) }
func MetaLength(code uint64) int { return int(code >> 4) }

func metaWeigher(r run[uint64]) Weight {
	w := Weight{Count: r.count}
	if !r.cell.Null {
		w.Group = r.count * MetaLength(r.cell.Val)
	}
	return w
}

// NewMetaColumn builds the value-metadata column; its GroupPos gives raw
// byte offsets for value lookups.
func NewMetaColumn(name string) *RLE[uint64] {
	return &RLE[uint64]{name, NewSpanTree(), uintCoder{}, metaWeigher}
}
