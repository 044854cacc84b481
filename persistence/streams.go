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
package persistence

import "io"
import "bufio"
import "bytes"
import "compress/gzip"
import "github.com/pierrec/lz4/v4"
import "github.com/ulikunitz/xz"

// snapshot payloads are compressed on disk; the reader sniffs the magic so
// stores stay oblivious to the codec in use

var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}
var gzipMagic = []byte{0x1f, 0x8b}
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewCompressor wraps w with the configured codec ("lz4", "xz", "gzip" or
// "" for raw).
func NewCompressor(w io.Writer, codec string) io.WriteCloser {
	switch codec {
	case "lz4":
		return lz4.NewWriter(w)
	case "xz":
		zw, err := xz.NewWriter(w)
		if err != nil {
			panic(err)
		}
		return zw
	case "gzip":
		return gzip.NewWriter(w)
	default:
		return nopWriteCloser{w}
	}
}

// NewDecompressor sniffs the stream head and uncompresses accordingly.
func NewDecompressor(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, err := br.Peek(6)
	if err != nil && len(head) < 2 {
		return br
	}
	switch {
	case bytes.HasPrefix(head, lz4Magic):
		return lz4.NewReader(br)
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return ErrorReader{err}
		}
		return zr
	case bytes.HasPrefix(head, xzMagic):
		zr, err := xz.NewReader(br)
		if err != nil {
			return ErrorReader{err}
		}
		return zr
	}
	return br
}
