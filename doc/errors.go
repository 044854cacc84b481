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
package doc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOpId       = errors.New("invalid op id")
	ErrInvalidElementId  = errors.New("invalid element id")
	ErrInvalidObjectId   = errors.New("invalid object id")
	ErrInvalidSeq        = errors.New("invalid sequence number")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrInvalidChangeHash = errors.New("invalid change hash")
	ErrEmptyStringKey    = errors.New("empty string map key")
	ErrMissingCounter    = errors.New("no counter visible at key")
	ErrInvalidIndex      = errors.New("index out of bounds")
	ErrNotAnObject       = errors.New("target is not an object")
)

// InvalidChangeError reports a structural problem in an incoming change.
type InvalidChangeError struct {
	Reason string
}

func (e InvalidChangeError) Error() string {
	return "invalid change: " + e.Reason
}

// InvalidPatchError is raised by observer-side consumers when a diff
// surface disagrees with their view.
type InvalidPatchError struct {
	Reason string
}

func (e InvalidPatchError) Error() string {
	return "invalid patch: " + e.Reason
}

// MissingDependencyError is soft: the caller may retry after delivering the
// missing change.
type MissingDependencyError struct {
	Hash ChangeHash
}

func (e MissingDependencyError) Error() string {
	return "missing dependency " + e.Hash.String()
}

// InvalidOpError reports the wrong operation for the target object kind.
type InvalidOpError struct {
	ObjType ObjType
}

func (e InvalidOpError) Error() string {
	return fmt.Sprintf("invalid op for %s object", e.ObjType)
}

// MissingObjectError reports an operation against an object the document
// does not contain.
type MissingObjectError struct {
	Obj ObjectId
}

func (e MissingObjectError) Error() string {
	return "missing object " + e.Obj.String()
}

// ReadOpError wraps a column-level decode failure with the op position.
type ReadOpError struct {
	Pos    int
	Reason string
}

func (e ReadOpError) Error() string {
	return fmt.Sprintf("op %d: %s", e.Pos, e.Reason)
}

// ParseError reports a wire-format decode failure.
type ParseErrorKind uint8

const (
	ParseInvalidChangeColumn ParseErrorKind = iota
	ParseInvalidOpColumn
	ParseChecksum
	ParseBadHeader
	ParseTruncated
)

type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e ParseError) Error() string {
	var k string
	switch e.Kind {
	case ParseInvalidChangeColumn:
		k = "invalid change column"
	case ParseInvalidOpColumn:
		k = "invalid op column"
	case ParseChecksum:
		k = "checksum mismatch"
	case ParseBadHeader:
		k = "bad header"
	case ParseTruncated:
		k = "truncated"
	}
	if e.Detail == "" {
		return "parse error: " + k
	}
	return "parse error: " + k + ": " + e.Detail
}
