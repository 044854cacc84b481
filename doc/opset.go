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
	"math"
	"sort"

	"github.com/google/btree"
	"github.com/launix-de/deltadoc/columnar"
)

// action column codes
const (
	actMakeMap uint64 = iota
	actPut
	actMakeList
	actDelete
	actMakeText
	actIncrement
	actMakeTable
	actMarkBegin
	actMarkEnd
)

// objMeta is the per-object entry of the object index: its kind and the
// object containing it. Ordered by object id, which is causal order
// (a child's Make op always has a higher counter than its parent's).
type objMeta struct {
	id     ObjectId
	typ    ObjType
	parent ObjectId
}

func objMetaLess(a, b objMeta) bool { return a.id.Cmp(b.id) < 0 }

// OpSet is the columnar op log of one document: ~15 parallel columns
// indexed by op position, sorted by (obj, key, id) for map ops and by
// (obj, tree position) for sequence ops. All columns are persistent, so
// forking a document shares every untouched slab.
type OpSet struct {
	actors   []ActorId
	actorIdx map[ActorId]int
	objects  *btree.BTreeG[objMeta]

	idActor   *columnar.RLE[uint64]
	idCtr     *columnar.DeltaColumn
	objActor  *columnar.RLE[uint64]
	objCtr    *columnar.RLE[uint64]
	keyActor  *columnar.RLE[uint64]
	keyCtr    *columnar.DeltaColumn
	keyStr    *columnar.RLE[string]
	insert    *columnar.BoolColumn
	action    *columnar.RLE[uint64]
	valMeta   *columnar.RLE[uint64]
	value     *columnar.RawColumn
	succCnt   *columnar.RLE[uint64]
	succActor *columnar.RLE[uint64]
	succCtr   *columnar.DeltaColumn
	expand    *columnar.BoolColumn
	markName  *columnar.RLE[string]

	length int
}

func NewOpSet() *OpSet {
	os := &OpSet{
		actorIdx:  make(map[ActorId]int),
		objects:   btree.NewG(16, objMetaLess),
		idActor:   columnar.NewUintColumn("id_actor"),
		idCtr:     columnar.NewDeltaColumn("id_ctr"),
		objActor:  columnar.NewUintColumn("obj_actor"),
		objCtr:    columnar.NewUintColumn("obj_ctr"),
		keyActor:  columnar.NewUintColumn("key_actor"),
		keyCtr:    columnar.NewDeltaColumn("key_ctr"),
		keyStr:    columnar.NewStringColumn("key_str"),
		insert:    columnar.NewBoolColumn("insert"),
		action:    columnar.NewUintColumn("action"),
		valMeta:   columnar.NewMetaColumn("value_meta"),
		value:     columnar.NewRawColumn("value"),
		succCnt:   columnar.NewGroupColumn("succ_count"),
		succActor: columnar.NewUintColumn("succ_actor"),
		succCtr:   columnar.NewDeltaColumn("succ_ctr"),
		expand:    columnar.NewBoolColumn("expand"),
		markName:  columnar.NewStringColumn("mark_name"),
	}
	os.objects.ReplaceOrInsert(objMeta{id: Root, typ: TypeMap})
	return os
}

// Clone shares all column trees; only the small actor table and object
// index are copied. This is what makes fork cheap.
func (os *OpSet) Clone() *OpSet {
	n := *os
	n.actors = append([]ActorId(nil), os.actors...)
	n.actorIdx = make(map[ActorId]int, len(os.actorIdx))
	for a, i := range os.actorIdx {
		n.actorIdx[a] = i
	}
	n.objects = os.objects.Clone()
	return &n
}

func (os *OpSet) Len() int { return os.length }

// ActorIndex interns an actor into the table.
func (os *OpSet) ActorIndex(a ActorId) int {
	if i, ok := os.actorIdx[a]; ok {
		return i
	}
	i := len(os.actors)
	os.actors = append(os.actors, a)
	os.actorIdx[a] = i
	return i
}

func (os *OpSet) Actors() []ActorId { return os.actors }

func (os *OpSet) HasActor(a ActorId) bool {
	_, ok := os.actorIdx[a]
	return ok
}

// Object returns the index entry for obj.
func (os *OpSet) Object(obj ObjectId) (ObjType, ObjectId, bool) {
	m, ok := os.objects.Get(objMeta{id: obj})
	if !ok {
		return 0, Root, false
	}
	return m.typ, m.parent, true
}

// EachObject visits all known objects in causal (id) order, root first.
func (os *OpSet) EachObject(f func(id ObjectId, typ ObjType) bool) {
	os.objects.Ascend(func(m objMeta) bool {
		return f(m.id, m.typ)
	})
}

// scalar value <-> meta/raw encoding

func encodeValue(v ScalarValue, actorIdx func(ActorId) int) (uint64, []byte) {
	var b bytes.Buffer
	switch v.Kind {
	case KindNull:
		return columnar.MetaCode(columnar.MetaNull, 0), nil
	case KindBool:
		if v.B {
			return columnar.MetaCode(columnar.MetaTrue, 0), nil
		}
		return columnar.MetaCode(columnar.MetaFalse, 0), nil
	case KindUint:
		columnar.PutUleb(&b, v.U)
		return columnar.MetaCode(columnar.MetaUint, b.Len()), b.Bytes()
	case KindInt:
		columnar.PutSleb(&b, v.I)
		return columnar.MetaCode(columnar.MetaInt, b.Len()), b.Bytes()
	case KindF64:
		var raw [8]byte
		binary.LittleEndian.PutUint64(raw[:], math.Float64bits(v.F))
		return columnar.MetaCode(columnar.MetaF64, 8), raw[:]
	case KindStr:
		return columnar.MetaCode(columnar.MetaStr, len(v.S)), []byte(v.S)
	case KindBytes:
		return columnar.MetaCode(columnar.MetaBytes, len(v.Bytes)), v.Bytes
	case KindCounter:
		columnar.PutSleb(&b, v.I)
		return columnar.MetaCode(columnar.MetaCounter, b.Len()), b.Bytes()
	case KindTimestamp:
		columnar.PutSleb(&b, v.I)
		return columnar.MetaCode(columnar.MetaTimestamp, b.Len()), b.Bytes()
	case KindCursor:
		columnar.PutUleb(&b, v.Opid.Counter)
		columnar.PutUleb(&b, uint64(actorIdx(v.Opid.Actor)))
		return columnar.MetaCode(columnar.MetaCursor, b.Len()), b.Bytes()
	}
	panic("unknown scalar kind")
}

func decodeValue(meta uint64, raw []byte, actorAt func(int) (ActorId, bool)) (ScalarValue, error) {
	switch columnar.MetaType(meta) {
	case columnar.MetaNull:
		return Null(), nil
	case columnar.MetaFalse:
		return Bool(false), nil
	case columnar.MetaTrue:
		return Bool(true), nil
	case columnar.MetaUint:
		u, _, ok := columnar.Uleb(raw, 0)
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "bad uint value"}
		}
		return Uint(u), nil
	case columnar.MetaInt:
		i, _, ok := columnar.Sleb(raw, 0)
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "bad int value"}
		}
		return Int(i), nil
	case columnar.MetaF64:
		if len(raw) != 8 {
			return Null(), ParseError{ParseInvalidOpColumn, "bad float value"}
		}
		return F64(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case columnar.MetaStr:
		return Str(string(raw)), nil
	case columnar.MetaBytes:
		return Blob(append([]byte(nil), raw...)), nil
	case columnar.MetaCounter:
		i, _, ok := columnar.Sleb(raw, 0)
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "bad counter value"}
		}
		return Counter(i), nil
	case columnar.MetaTimestamp:
		i, _, ok := columnar.Sleb(raw, 0)
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "bad timestamp value"}
		}
		return Timestamp(i), nil
	case columnar.MetaCursor:
		ctr, p, ok := columnar.Uleb(raw, 0)
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "bad cursor value"}
		}
		ai, _, ok := columnar.Uleb(raw, p)
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "bad cursor actor"}
		}
		actor, ok := actorAt(int(ai))
		if !ok {
			return Null(), ParseError{ParseInvalidOpColumn, "cursor actor out of range"}
		}
		return CursorVal(OpId{ctr, actor}), nil
	}
	return Null(), ParseError{ParseInvalidOpColumn, "unknown value metadata"}
}

func actionCode(t OpType) uint64 {
	switch t.Kind {
	case ActionMake:
		switch t.ObjType {
		case TypeMap:
			return actMakeMap
		case TypeList:
			return actMakeList
		case TypeText:
			return actMakeText
		case TypeTable:
			return actMakeTable
		}
	case ActionPut:
		return actPut
	case ActionDelete:
		return actDelete
	case ActionIncrement:
		return actIncrement
	case ActionMarkBegin:
		return actMarkBegin
	case ActionMarkEnd:
		return actMarkEnd
	}
	panic("unknown action")
}

// InsertOp splices the op into every column at position pos and registers
// freshly made objects. Succ starts empty; AddSucc extends it later.
func (os *OpSet) InsertOp(pos int, op *Op) {
	aid := uint64(os.ActorIndex(op.Id.Actor))
	os.idActor = os.idActor.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(aid)})
	os.idCtr = os.idCtr.Splice(pos, 0, []columnar.Cell[int64]{columnar.Value(int64(op.Id.Counter))})
	if op.Obj.IsRoot() {
		os.objActor = os.objActor.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
		os.objCtr = os.objCtr.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
	} else {
		os.objActor = os.objActor.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(uint64(os.ActorIndex(op.Obj.id.Actor)))})
		os.objCtr = os.objCtr.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(op.Obj.id.Counter)})
	}
	if op.Key.IsSeq() {
		if op.Key.Elem.IsHead() {
			os.keyActor = os.keyActor.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
			os.keyCtr = os.keyCtr.Splice(pos, 0, []columnar.Cell[int64]{columnar.Value(int64(0))})
		} else {
			os.keyActor = os.keyActor.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(uint64(os.ActorIndex(op.Key.Elem.id.Actor)))})
			os.keyCtr = os.keyCtr.Splice(pos, 0, []columnar.Cell[int64]{columnar.Value(int64(op.Key.Elem.id.Counter))})
		}
		os.keyStr = os.keyStr.Splice(pos, 0, []columnar.Cell[string]{columnar.Null[string]()})
	} else {
		os.keyActor = os.keyActor.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
		os.keyCtr = os.keyCtr.Splice(pos, 0, []columnar.Cell[int64]{columnar.Null[int64]()})
		os.keyStr = os.keyStr.Splice(pos, 0, []columnar.Cell[string]{columnar.Value(op.Key.Prop)})
	}
	os.insert = os.insert.Splice(pos, 0, []bool{op.Insert})
	os.action = os.action.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(actionCode(op.Action))})

	var meta uint64
	var raw []byte
	switch op.Action.Kind {
	case ActionPut, ActionMarkBegin:
		meta, raw = encodeValue(op.Action.Value, func(a ActorId) int { return os.ActorIndex(a) })
	case ActionIncrement:
		meta, raw = encodeValue(Int(op.Action.Inc), nil)
	default:
		meta, raw = columnar.MetaCode(columnar.MetaNull, 0), nil
	}
	off := columnar.GroupPos(os.valMeta, pos)
	os.valMeta = os.valMeta.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(meta)})
	if len(raw) > 0 {
		os.value = os.value.Splice(off, 0, raw)
	}

	os.succCnt = os.succCnt.Splice(pos, 0, []columnar.Cell[uint64]{columnar.Value(uint64(0))})
	os.expand = os.expand.Splice(pos, 0, []bool{op.Action.Expand})
	if op.Action.Kind == ActionMarkBegin {
		os.markName = os.markName.Splice(pos, 0, []columnar.Cell[string]{columnar.Value(op.Action.Mark)})
	} else {
		os.markName = os.markName.Splice(pos, 0, []columnar.Cell[string]{columnar.Null[string]()})
	}
	os.length++

	if op.Action.Kind == ActionMake {
		os.objects.ReplaceOrInsert(objMeta{id: ObjId(op.Id), typ: op.Action.ObjType, parent: op.Obj})
	}
}

// RemoveOp is the rollback inverse of InsertOp.
func (os *OpSet) RemoveOp(pos int) {
	op := os.ReadOp(pos)
	if len(op.Succ) > 0 {
		panic("cannot remove an op that has successors")
	}
	voff := columnar.GroupPos(os.valMeta, pos)
	vm, _ := os.valMeta.Nth(pos)
	vlen := 0
	if !vm.Null {
		vlen = columnar.MetaLength(vm.Val)
	}
	os.idActor = os.idActor.Splice(pos, 1, nil)
	os.idCtr = os.idCtr.Splice(pos, 1, nil)
	os.objActor = os.objActor.Splice(pos, 1, nil)
	os.objCtr = os.objCtr.Splice(pos, 1, nil)
	os.keyActor = os.keyActor.Splice(pos, 1, nil)
	os.keyCtr = os.keyCtr.Splice(pos, 1, nil)
	os.keyStr = os.keyStr.Splice(pos, 1, nil)
	os.insert = os.insert.Splice(pos, 1, nil)
	os.action = os.action.Splice(pos, 1, nil)
	os.valMeta = os.valMeta.Splice(pos, 1, nil)
	if vlen > 0 {
		os.value = os.value.Splice(voff, vlen, nil)
	}
	os.succCnt = os.succCnt.Splice(pos, 1, nil)
	os.expand = os.expand.Splice(pos, 1, nil)
	os.markName = os.markName.Splice(pos, 1, nil)
	os.length--
	if op.Action.Kind == ActionMake {
		os.objects.Delete(objMeta{id: ObjId(op.Id)})
	}
}

// AddSucc records id as a successor of the op at pos, keeping the grouped
// succ columns sorted inside the group.
func (os *OpSet) AddSucc(pos int, id OpId) {
	cnt, _ := os.succCnt.Nth(pos)
	n := int(cnt.Val)
	g := columnar.GroupPos(os.succCnt, pos)
	off := 0
	for ; off < n; off++ {
		if os.succAt(g + off).Cmp(id) > 0 {
			break
		}
	}
	aid := uint64(os.ActorIndex(id.Actor))
	os.succActor = os.succActor.Splice(g+off, 0, []columnar.Cell[uint64]{columnar.Value(aid)})
	os.succCtr = os.succCtr.Splice(g+off, 0, []columnar.Cell[int64]{columnar.Value(int64(id.Counter))})
	os.succCnt = os.succCnt.Splice(pos, 1, []columnar.Cell[uint64]{columnar.Value(uint64(n + 1))})
}

// RemoveSucc retracts a successor (transaction rollback).
func (os *OpSet) RemoveSucc(pos int, id OpId) {
	cnt, _ := os.succCnt.Nth(pos)
	n := int(cnt.Val)
	g := columnar.GroupPos(os.succCnt, pos)
	for off := 0; off < n; off++ {
		if os.succAt(g+off) == id {
			os.succActor = os.succActor.Splice(g+off, 1, nil)
			os.succCtr = os.succCtr.Splice(g+off, 1, nil)
			os.succCnt = os.succCnt.Splice(pos, 1, []columnar.Cell[uint64]{columnar.Value(uint64(n - 1))})
			return
		}
	}
}

// Replace runs a mutator over the op at pos and writes the action-bearing
// columns back; cached weights recompute through the splices. Identity and
// key columns are immutable.
func (os *OpSet) Replace(pos int, mutate func(op *Op)) {
	op := os.ReadOp(pos)
	mutate(op)
	os.action = os.action.Splice(pos, 1, []columnar.Cell[uint64]{columnar.Value(actionCode(op.Action))})
	voff := columnar.GroupPos(os.valMeta, pos)
	vm, _ := os.valMeta.Nth(pos)
	oldLen := 0
	if !vm.Null {
		oldLen = columnar.MetaLength(vm.Val)
	}
	var meta uint64
	var raw []byte
	switch op.Action.Kind {
	case ActionPut, ActionMarkBegin:
		meta, raw = encodeValue(op.Action.Value, func(a ActorId) int { return os.ActorIndex(a) })
	case ActionIncrement:
		meta, raw = encodeValue(Int(op.Action.Inc), nil)
	default:
		meta, raw = columnar.MetaCode(columnar.MetaNull, 0), nil
	}
	os.valMeta = os.valMeta.Splice(pos, 1, []columnar.Cell[uint64]{columnar.Value(meta)})
	os.value = os.value.Splice(voff, oldLen, raw)
	os.expand = os.expand.Splice(pos, 1, []bool{op.Action.Expand})
	if op.Action.Kind == ActionMarkBegin {
		os.markName = os.markName.Splice(pos, 1, []columnar.Cell[string]{columnar.Value(op.Action.Mark)})
	} else {
		os.markName = os.markName.Splice(pos, 1, []columnar.Cell[string]{columnar.Null[string]()})
	}
}

func (os *OpSet) succAt(gpos int) OpId {
	a, _ := os.succActor.Nth(gpos)
	c, _ := os.succCtr.Nth(gpos)
	return OpId{uint64(c.Val), os.actors[a.Val]}
}

// ReadOp decodes the op at position pos from all columns.
func (os *OpSet) ReadOp(pos int) *Op {
	if pos < 0 || pos >= os.length {
		panic(ReadOpError{pos, "out of range"})
	}
	op := &Op{}
	ia, _ := os.idActor.Nth(pos)
	ic, _ := os.idCtr.Nth(pos)
	op.Id = OpId{uint64(ic.Val), os.actors[ia.Val]}
	oa, _ := os.objActor.Nth(pos)
	oc, _ := os.objCtr.Nth(pos)
	if !oa.Null {
		op.Obj = ObjId(OpId{oc.Val, os.actors[oa.Val]})
	}
	ks, _ := os.keyStr.Nth(pos)
	if !ks.Null {
		op.Key = MapKey(ks.Val)
	} else {
		ka, _ := os.keyActor.Nth(pos)
		kc, _ := os.keyCtr.Nth(pos)
		if ka.Null {
			op.Key = SeqKey(Head)
		} else {
			op.Key = SeqKey(ElemId(OpId{uint64(kc.Val), os.actors[ka.Val]}))
		}
	}
	op.Insert, _ = os.insert.Nth(pos)
	op.Action = os.readAction(pos)
	cnt, _ := os.succCnt.Nth(pos)
	g := columnar.GroupPos(os.succCnt, pos)
	for i := 0; i < int(cnt.Val); i++ {
		op.Succ = append(op.Succ, os.succAt(g+i))
	}
	return op
}

func (os *OpSet) readAction(pos int) OpType {
	ac, _ := os.action.Nth(pos)
	readVal := func() ScalarValue {
		vm, _ := os.valMeta.Nth(pos)
		if vm.Null {
			return Null()
		}
		off := columnar.GroupPos(os.valMeta, pos)
		raw := os.value.ReadAt(off, columnar.MetaLength(vm.Val))
		v, err := decodeValue(vm.Val, raw, func(i int) (ActorId, bool) {
			if i < 0 || i >= len(os.actors) {
				return ActorId{}, false
			}
			return os.actors[i], true
		})
		if err != nil {
			panic(ReadOpError{pos, err.Error()})
		}
		return v
	}
	switch ac.Val {
	case actMakeMap:
		return MakeOp(TypeMap)
	case actMakeList:
		return MakeOp(TypeList)
	case actMakeText:
		return MakeOp(TypeText)
	case actMakeTable:
		return MakeOp(TypeTable)
	case actPut:
		return PutOp(readVal())
	case actDelete:
		return DeleteOp()
	case actIncrement:
		v := readVal()
		return IncrementOp(v.I)
	case actMarkBegin:
		exp, _ := os.expand.Nth(pos)
		mn, _ := os.markName.Nth(pos)
		return MarkBeginOp(exp, MarkData{mn.Val, readVal()})
	case actMarkEnd:
		exp, _ := os.expand.Nth(pos)
		return MarkEndOp(exp)
	}
	panic(ReadOpError{pos, "unknown action code"})
}

// OpId at position pos without decoding the whole op.
func (os *OpSet) IdAt(pos int) OpId {
	ia, _ := os.idActor.Nth(pos)
	ic, _ := os.idCtr.Nth(pos)
	return OpId{uint64(ic.Val), os.actors[ia.Val]}
}

func (os *OpSet) objAt(pos int) ObjectId {
	oa, _ := os.objActor.Nth(pos)
	oc, _ := os.objCtr.Nth(pos)
	if oa.Null {
		return Root
	}
	return ObjId(OpId{oc.Val, os.actors[oa.Val]})
}

// ObjRange locates the half-open position range of an object's ops by
// bisecting the obj columns, which are sorted with root first.
func (os *OpSet) ObjRange(obj ObjectId) (int, int) {
	start := sort.Search(os.length, func(i int) bool {
		return os.objAt(i).Cmp(obj) >= 0
	})
	end := start + sort.Search(os.length-start, func(i int) bool {
		return os.objAt(start+i).Cmp(obj) > 0
	})
	return start, end
}

// IsIncrement reports whether the op with the given id (searched inside the
// object's range) is an Increment. Used by the visibility rule for
// counters.
func (os *OpSet) IsIncrement(obj ObjectId, id OpId) bool {
	start, end := os.ObjRange(obj)
	for pos := start; pos < end; pos++ {
		if os.IdAt(pos) == id {
			ac, _ := os.action.Nth(pos)
			return ac.Val == actIncrement
		}
	}
	return false
}

// opCursor iterates ops sequentially with all column iterators in
// lockstep; much cheaper than ReadOp per position for full scans.
type opCursor struct {
	os       *OpSet
	pos      int
	idActor  *columnar.RLEIter[uint64]
	idCtr    *columnar.DeltaIter
	objActor *columnar.RLEIter[uint64]
	objCtr   *columnar.RLEIter[uint64]
	keyActor *columnar.RLEIter[uint64]
	keyCtr   *columnar.DeltaIter
	keyStr   *columnar.RLEIter[string]
	insert   *columnar.BoolIter
	action   *columnar.RLEIter[uint64]
	succCnt  *columnar.RLEIter[uint64]
}

func (os *OpSet) cursor() *opCursor {
	return &opCursor{
		os:       os,
		idActor:  os.idActor.Iter(),
		idCtr:    os.idCtr.Iter(),
		objActor: os.objActor.Iter(),
		objCtr:   os.objCtr.Iter(),
		keyActor: os.keyActor.Iter(),
		keyCtr:   os.keyCtr.Iter(),
		keyStr:   os.keyStr.Iter(),
		insert:   os.insert.Iter(),
		action:   os.action.Iter(),
		succCnt:  os.succCnt.Iter(),
	}
}

// next yields the position and decoded op, or -1 at the end. Ids, objects,
// keys and the insert flag come from the lockstep iterators; action, value
// and succ are point lookups at pos on every call.
func (c *opCursor) next() (int, *Op) {
	ia, ok := c.idActor.Next()
	if !ok {
		return -1, nil
	}
	ic, _ := c.idCtr.Next()
	oa, _ := c.objActor.Next()
	oc, _ := c.objCtr.Next()
	ka, _ := c.keyActor.Next()
	kc, _ := c.keyCtr.Next()
	ks, _ := c.keyStr.Next()
	ins, _ := c.insert.Next()
	c.action.Next()
	c.succCnt.Next()

	pos := c.pos
	c.pos++
	op := &Op{Id: OpId{uint64(ic.Val), c.os.actors[ia.Val]}}
	if !oa.Null {
		op.Obj = ObjId(OpId{oc.Val, c.os.actors[oa.Val]})
	}
	if !ks.Null {
		op.Key = MapKey(ks.Val)
	} else if ka.Null {
		op.Key = SeqKey(Head)
	} else {
		op.Key = SeqKey(ElemId(OpId{uint64(kc.Val), c.os.actors[ka.Val]}))
	}
	op.Insert = ins
	op.Action = c.os.readAction(pos)
	cnt, _ := c.os.succCnt.Nth(pos)
	g := columnar.GroupPos(c.os.succCnt, pos)
	for i := 0; i < int(cnt.Val); i++ {
		op.Succ = append(op.Succ, c.os.succAt(g+i))
	}
	return pos, op
}
