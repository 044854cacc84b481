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

// LEB128 integer primitives. The unsigned form matches encoding/binary's
// Uvarint; the signed form is true sLEB128 (sign extension, not zigzag),
// which is what the wire format prescribes.

func PutUleb(b *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b.WriteByte(c | 0x80)
		} else {
			b.WriteByte(c)
			return
		}
	}
}

func PutSleb(b *bytes.Buffer, v int64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7 // arithmetic shift
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			b.WriteByte(c)
			return
		}
		b.WriteByte(c | 0x80)
	}
}

// Uleb reads an unsigned LEB128 value from data starting at pos.
// Returns the value and the new position; on truncation, ok is false.
func Uleb(data []byte, pos int) (v uint64, next int, ok bool) {
	var shift uint
	for pos < len(data) {
		c := data[pos]
		pos++
		if shift >= 64 {
			return 0, pos, false // overlong
		}
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, pos, true
		}
		shift += 7
	}
	return 0, pos, false
}

func Sleb(data []byte, pos int) (v int64, next int, ok bool) {
	var shift uint
	for pos < len(data) {
		c := data[pos]
		pos++
		if shift >= 64 {
			return 0, pos, false
		}
		v |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				v |= -1 << shift // sign extend
			}
			return v, pos, true
		}
	}
	return 0, pos, false
}
