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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ActorId is an opaque 16 byte replica token, ordered lexicographically.
type ActorId [16]byte

var actorCounter uint64 = uint64(time.Now().UnixNano())

// NewActorId returns a UUIDv4-like actor token without relying on
// crypto/rand. It is not suitable for cryptographic use but avoids startup
// stalls on low-entropy systems.
func NewActorId() ActorId {
	ctr := atomic.AddUint64(&actorCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	// RFC4122 variant + version 4
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return ActorId(uuid.UUID(b))
}

func (a ActorId) String() string { return hex.EncodeToString(a[:]) }

func (a ActorId) Cmp(b ActorId) int { return bytes.Compare(a[:], b[:]) }

func ParseActorId(s string) (ActorId, error) {
	var a ActorId
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return a, fmt.Errorf("bad actor id %q", s)
	}
	copy(a[:], raw)
	return a, nil
}

// OpId names exactly one op: a per-document-unique (counter, actor) pair.
// Total order: counter first, then actor bytes.
type OpId struct {
	Counter uint64
	Actor   ActorId
}

func (o OpId) IsZero() bool { return o.Counter == 0 }

func (o OpId) Cmp(p OpId) int {
	if o.Counter != p.Counter {
		if o.Counter < p.Counter {
			return -1
		}
		return 1
	}
	return o.Actor.Cmp(p.Actor)
}

func (o OpId) String() string {
	return fmt.Sprintf("%d@%s", o.Counter, o.Actor)
}

// ObjectId is the Root sentinel or the id of the Make op that created the
// object. The zero value is Root.
type ObjectId struct {
	id OpId
}

var Root = ObjectId{}

func ObjId(id OpId) ObjectId { return ObjectId{id} }

func (o ObjectId) IsRoot() bool { return o.id.IsZero() }
func (o ObjectId) Id() OpId     { return o.id }

func (o ObjectId) Cmp(p ObjectId) int { return o.id.Cmp(p.id) }

func (o ObjectId) String() string {
	if o.IsRoot() {
		return "_root"
	}
	return o.id.String()
}

// ElementId is the Head sentinel or the id of an insert op. The zero value
// is Head.
type ElementId struct {
	id OpId
}

var Head = ElementId{}

func ElemId(id OpId) ElementId { return ElementId{id} }

func (e ElementId) IsHead() bool { return e.id.IsZero() }
func (e ElementId) Id() OpId     { return e.id }

func (e ElementId) String() string {
	if e.IsHead() {
		return "_head"
	}
	return e.id.String()
}

// Key addresses an op inside its object: a map property or a sequence
// element.
type Key struct {
	Prop string
	Elem ElementId
	seq  bool
}

func MapKey(prop string) Key      { return Key{Prop: prop} }
func SeqKey(e ElementId) Key      { return Key{Elem: e, seq: true} }
func (k Key) IsSeq() bool         { return k.seq }
func (k Key) String() string {
	if k.seq {
		return k.Elem.String()
	}
	return k.Prop
}

func (k Key) Cmp(o Key) int {
	if k.seq != o.seq {
		if !k.seq {
			return -1
		}
		return 1
	}
	if k.seq {
		return k.Elem.id.Cmp(o.Elem.id)
	}
	if k.Prop < o.Prop {
		return -1
	}
	if k.Prop > o.Prop {
		return 1
	}
	return 0
}

// ChangeHash is the SHA-256 digest of a change's canonical bytes.
type ChangeHash [32]byte

func (h ChangeHash) String() string { return hex.EncodeToString(h[:]) }

func ParseChangeHash(s string) (ChangeHash, error) {
	var h ChangeHash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return h, ErrInvalidChangeHash
	}
	copy(h[:], raw)
	return h, nil
}

// ObjType tags the four container kinds.
type ObjType uint8

const (
	TypeMap ObjType = iota
	TypeTable
	TypeList
	TypeText
)

func (t ObjType) IsSequence() bool { return t == TypeList || t == TypeText }

func (t ObjType) String() string {
	switch t {
	case TypeMap:
		return "map"
	case TypeTable:
		return "table"
	case TypeList:
		return "list"
	case TypeText:
		return "text"
	}
	return "unknown"
}

// ScalarKind tags a ScalarValue.
type ScalarKind uint8

const (
	KindNull ScalarKind = iota
	KindBool
	KindInt
	KindUint
	KindF64
	KindStr
	KindBytes
	KindCounter
	KindTimestamp
	KindCursor
)

// ScalarValue is the payload of a Put op.
type ScalarValue struct {
	Kind  ScalarKind
	I     int64   // Int, Counter, Timestamp
	U     uint64  // Uint
	F     float64 // F64
	B     bool    // Bool
	S     string  // Str
	Bytes []byte  // Bytes
	Opid  OpId    // Cursor target
}

func Null() ScalarValue              { return ScalarValue{Kind: KindNull} }
func Bool(b bool) ScalarValue        { return ScalarValue{Kind: KindBool, B: b} }
func Int(i int64) ScalarValue        { return ScalarValue{Kind: KindInt, I: i} }
func Uint(u uint64) ScalarValue      { return ScalarValue{Kind: KindUint, U: u} }
func F64(f float64) ScalarValue      { return ScalarValue{Kind: KindF64, F: f} }
func Str(s string) ScalarValue       { return ScalarValue{Kind: KindStr, S: s} }
func Blob(b []byte) ScalarValue      { return ScalarValue{Kind: KindBytes, Bytes: b} }
func Counter(i int64) ScalarValue    { return ScalarValue{Kind: KindCounter, I: i} }
func Timestamp(i int64) ScalarValue  { return ScalarValue{Kind: KindTimestamp, I: i} }
func CursorVal(id OpId) ScalarValue  { return ScalarValue{Kind: KindCursor, Opid: id} }

func (v ScalarValue) Equal(o ScalarValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.B == o.B
	case KindInt, KindCounter, KindTimestamp:
		return v.I == o.I
	case KindUint:
		return v.U == o.U
	case KindF64:
		return v.F == o.F
	case KindStr:
		return v.S == o.S
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindCursor:
		return v.Opid == o.Opid
	}
	return false
}

func (v ScalarValue) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprint(v.B)
	case KindInt:
		return fmt.Sprint(v.I)
	case KindUint:
		return fmt.Sprint(v.U)
	case KindF64:
		return fmt.Sprint(v.F)
	case KindStr:
		return fmt.Sprintf("%q", v.S)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindCounter:
		return fmt.Sprintf("counter(%d)", v.I)
	case KindTimestamp:
		return fmt.Sprintf("timestamp(%d)", v.I)
	case KindCursor:
		return fmt.Sprintf("cursor(%s)", v.Opid)
	}
	return "?"
}

// ActionKind discriminates OpType.
type ActionKind uint8

const (
	ActionMake ActionKind = iota
	ActionPut
	ActionIncrement
	ActionDelete
	ActionMarkBegin
	ActionMarkEnd
)

// MarkData is the payload of a MarkBegin op.
type MarkData struct {
	Name  string
	Value ScalarValue
}

// OpType is the action sum type of an op.
type OpType struct {
	Kind    ActionKind
	ObjType ObjType     // Make
	Value   ScalarValue // Put, MarkBegin mark value
	Inc     int64       // Increment
	Expand  bool        // MarkBegin / MarkEnd
	Mark    string      // MarkBegin name
}

func MakeOp(t ObjType) OpType         { return OpType{Kind: ActionMake, ObjType: t} }
func PutOp(v ScalarValue) OpType      { return OpType{Kind: ActionPut, Value: v} }
func IncrementOp(n int64) OpType      { return OpType{Kind: ActionIncrement, Inc: n} }
func DeleteOp() OpType                { return OpType{Kind: ActionDelete} }
func MarkBeginOp(expand bool, m MarkData) OpType {
	return OpType{Kind: ActionMarkBegin, Expand: expand, Mark: m.Name, Value: m.Value}
}
func MarkEndOp(expand bool) OpType { return OpType{Kind: ActionMarkEnd, Expand: expand} }

func (t OpType) IsMark() bool {
	return t.Kind == ActionMarkBegin || t.Kind == ActionMarkEnd
}

func (t OpType) IsCounter() bool {
	return t.Kind == ActionPut && t.Value.Kind == KindCounter
}

// Op is the atom of the log. Ops are immutable once applied except for succ
// extension.
type Op struct {
	Id     OpId
	Obj    ObjectId
	Key    Key
	Insert bool
	Action OpType
	Pred   []OpId // sorted
	Succ   []OpId // sorted, maintained as later ops arrive
}

// ElemIdOrKey is the element the op addresses: its own id for inserts, its
// key's element otherwise.
func (o *Op) ElemIdOrKey() Key {
	if o.Insert {
		return SeqKey(ElemId(o.Id))
	}
	return o.Key
}

func insertOpId(ids []OpId, id OpId) []OpId {
	at := len(ids)
	for i, v := range ids {
		if id.Cmp(v) < 0 {
			at = i
			break
		}
	}
	ids = append(ids, OpId{})
	copy(ids[at+1:], ids[at:])
	ids[at] = id
	return ids
}

func sortedOpIds(ids []OpId) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i-1].Cmp(ids[i]) >= 0 {
			return false
		}
	}
	return true
}
