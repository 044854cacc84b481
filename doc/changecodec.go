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
	"crypto/sha256"
	"sort"

	"github.com/launix-de/deltadoc/columnar"
)

// chunk envelope
var chunkMagic = [4]byte{0x85, 0x6f, 0x4a, 0x83}

const (
	ChunkChange   byte = 1
	ChunkDocument byte = 2
	ChunkBundle   byte = 3
)

// column specs of the op column group; pred and succ share id 7 (changes
// carry pred, documents carry succ)
var (
	specObjActor  = columnar.Spec(0, columnar.TypeActor)
	specObjCtr    = columnar.Spec(0, columnar.TypeInteger)
	specKeyActor  = columnar.Spec(1, columnar.TypeActor)
	specKeyCtr    = columnar.Spec(1, columnar.TypeDeltaInteger)
	specKeyStr    = columnar.Spec(1, columnar.TypeString)
	specIdActor   = columnar.Spec(2, columnar.TypeActor)
	specIdCtr     = columnar.Spec(2, columnar.TypeDeltaInteger)
	specInsert    = columnar.Spec(3, columnar.TypeBoolean)
	specAction    = columnar.Spec(4, columnar.TypeInteger)
	specValMeta   = columnar.Spec(5, columnar.TypeValueMetadata)
	specValue     = columnar.Spec(5, columnar.TypeValue)
	specRefCount  = columnar.Spec(7, columnar.TypeGroup)
	specRefActor  = columnar.Spec(7, columnar.TypeActor)
	specRefCtr    = columnar.Spec(7, columnar.TypeDeltaInteger)
	specExpand    = columnar.Spec(9, columnar.TypeBoolean)
	specMarkName  = columnar.Spec(9, columnar.TypeString)
)

// WriteChunk wraps a body in the envelope: magic, checksum, type, length.
func WriteChunk(out *bytes.Buffer, chunkType byte, body []byte) {
	out.Write(chunkMagic[:])
	sum := sha256.Sum256(body)
	out.Write(sum[:4])
	out.WriteByte(chunkType)
	columnar.PutUleb(out, uint64(len(body)))
	out.Write(body)
}

// ReadChunk parses one envelope from data and returns the chunk type, the
// body and the remaining bytes.
func ReadChunk(data []byte) (byte, []byte, []byte, error) {
	if len(data) < 9 {
		return 0, nil, nil, ParseError{ParseTruncated, "chunk header"}
	}
	if !bytes.Equal(data[:4], chunkMagic[:]) {
		return 0, nil, nil, ParseError{ParseBadHeader, "bad magic"}
	}
	chunkType := data[8]
	length, pos, ok := columnar.Uleb(data, 9)
	if !ok || pos+int(length) > len(data) {
		return 0, nil, nil, ParseError{ParseTruncated, "chunk body"}
	}
	body := data[pos : pos+int(length)]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:4], data[4:8]) {
		return 0, nil, nil, ParseError{ParseChecksum, ""}
	}
	return chunkType, body, data[pos+int(length):], nil
}

// opColumns is the column group of a set of ops scoped to one change (ref
// = pred) or to a whole document (ref = succ, ids present).
type opColumns struct {
	objActor *columnar.RLE[uint64]
	objCtr   *columnar.RLE[uint64]
	keyActor *columnar.RLE[uint64]
	keyCtr   *columnar.DeltaColumn
	keyStr   *columnar.RLE[string]
	idActor  *columnar.RLE[uint64]
	idCtr    *columnar.DeltaColumn
	insert   *columnar.BoolColumn
	action   *columnar.RLE[uint64]
	valMeta  *columnar.RLE[uint64]
	value    *columnar.RawColumn
	refCnt   *columnar.RLE[uint64]
	refActor *columnar.RLE[uint64]
	refCtr   *columnar.DeltaColumn
	expand   *columnar.BoolColumn
	markName *columnar.RLE[string]
	withIds  bool
}

func newOpColumns(withIds bool) *opColumns {
	return &opColumns{
		objActor: columnar.NewUintColumn("obj_actor"),
		objCtr:   columnar.NewUintColumn("obj_ctr"),
		keyActor: columnar.NewUintColumn("key_actor"),
		keyCtr:   columnar.NewDeltaColumn("key_ctr"),
		keyStr:   columnar.NewStringColumn("key_str"),
		idActor:  columnar.NewUintColumn("id_actor"),
		idCtr:    columnar.NewDeltaColumn("id_ctr"),
		insert:   columnar.NewBoolColumn("insert"),
		action:   columnar.NewUintColumn("action"),
		valMeta:  columnar.NewMetaColumn("value_meta"),
		value:    columnar.NewRawColumn("value"),
		refCnt:   columnar.NewGroupColumn("ref_count"),
		refActor: columnar.NewUintColumn("ref_actor"),
		refCtr:   columnar.NewDeltaColumn("ref_ctr"),
		expand:   columnar.NewBoolColumn("expand"),
		markName: columnar.NewStringColumn("mark_name"),
		withIds:  withIds,
	}
}

// push appends one op row. actorIdx interns actors into the applicable
// table.
func (oc *opColumns) push(id OpId, obj ObjectId, key Key, insert bool, action OpType, refs []OpId, actorIdx func(ActorId) uint64) {
	n := oc.action.Len()
	if oc.withIds {
		oc.idActor = oc.idActor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(actorIdx(id.Actor))})
		oc.idCtr = oc.idCtr.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(int64(id.Counter))})
	}
	if obj.IsRoot() {
		oc.objActor = oc.objActor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
		oc.objCtr = oc.objCtr.Splice(n, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
	} else {
		oc.objActor = oc.objActor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(actorIdx(obj.id.Actor))})
		oc.objCtr = oc.objCtr.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(obj.id.Counter)})
	}
	if key.IsSeq() {
		if key.Elem.IsHead() {
			oc.keyActor = oc.keyActor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
			oc.keyCtr = oc.keyCtr.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(int64(0))})
		} else {
			oc.keyActor = oc.keyActor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(actorIdx(key.Elem.id.Actor))})
			oc.keyCtr = oc.keyCtr.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(int64(key.Elem.id.Counter))})
		}
		oc.keyStr = oc.keyStr.Splice(n, 0, []columnar.Cell[string]{columnar.Null[string]()})
	} else {
		oc.keyActor = oc.keyActor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Null[uint64]()})
		oc.keyCtr = oc.keyCtr.Splice(n, 0, []columnar.Cell[int64]{columnar.Null[int64]()})
		oc.keyStr = oc.keyStr.Splice(n, 0, []columnar.Cell[string]{columnar.Value(key.Prop)})
	}
	oc.insert = oc.insert.Splice(n, 0, []bool{insert})
	oc.action = oc.action.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(actionCode(action))})
	var meta uint64
	var raw []byte
	switch action.Kind {
	case ActionPut, ActionMarkBegin:
		meta, raw = encodeValue(action.Value, func(a ActorId) int { return int(actorIdx(a)) })
	case ActionIncrement:
		meta, raw = encodeValue(Int(action.Inc), nil)
	default:
		meta = columnar.MetaCode(columnar.MetaNull, 0)
	}
	voff := columnar.GroupPos(oc.valMeta, n)
	oc.valMeta = oc.valMeta.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(meta)})
	if len(raw) > 0 {
		oc.value = oc.value.Splice(voff, 0, raw)
	}
	g := columnar.GroupPos(oc.refCnt, n)
	oc.refCnt = oc.refCnt.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(uint64(len(refs)))})
	for i, r := range refs {
		oc.refActor = oc.refActor.Splice(g+i, 0, []columnar.Cell[uint64]{columnar.Value(actorIdx(r.Actor))})
		oc.refCtr = oc.refCtr.Splice(g+i, 0, []columnar.Cell[int64]{columnar.Value(int64(r.Counter))})
	}
	oc.expand = oc.expand.Splice(n, 0, []bool{action.Expand})
	if action.Kind == ActionMarkBegin {
		oc.markName = oc.markName.Splice(n, 0, []columnar.Cell[string]{columnar.Value(action.Mark)})
	} else {
		oc.markName = oc.markName.Splice(n, 0, []columnar.Cell[string]{columnar.Null[string]()})
	}
}

type columnBody struct {
	spec uint32
	data []byte
}

func (oc *opColumns) save() []columnBody {
	var out []columnBody
	add := func(spec uint32, save func(*bytes.Buffer), empty bool) {
		if empty {
			return
		}
		var b bytes.Buffer
		save(&b)
		if b.Len() > 0 {
			out = append(out, columnBody{spec, b.Bytes()})
		}
	}
	add(specObjActor, oc.objActor.Save, oc.objActor.Len() == 0)
	add(specObjCtr, oc.objCtr.Save, oc.objCtr.Len() == 0)
	add(specKeyActor, oc.keyActor.Save, oc.keyActor.Len() == 0)
	add(specKeyCtr, oc.keyCtr.Save, oc.keyCtr.Len() == 0)
	add(specKeyStr, oc.keyStr.Save, oc.keyStr.Len() == 0)
	if oc.withIds {
		add(specIdActor, oc.idActor.Save, oc.idActor.Len() == 0)
		add(specIdCtr, oc.idCtr.Save, oc.idCtr.Len() == 0)
	}
	add(specInsert, oc.insert.Save, oc.insert.Len() == 0)
	add(specAction, oc.action.Save, oc.action.Len() == 0)
	add(specValMeta, oc.valMeta.Save, oc.valMeta.Len() == 0)
	add(specValue, oc.value.Save, oc.value.Len() == 0)
	add(specRefCount, oc.refCnt.Save, oc.refCnt.Len() == 0)
	add(specRefActor, oc.refActor.Save, oc.refActor.Len() == 0)
	add(specRefCtr, oc.refCtr.Save, oc.refCtr.Len() == 0)
	add(specExpand, oc.expand.Save, oc.expand.Len() == 0)
	add(specMarkName, oc.markName.Save, oc.markName.Len() == 0)
	sort.Slice(out, func(i, j int) bool { return out[i].spec < out[j].spec })
	return out
}

func (oc *opColumns) load(cols []columnBody) error {
	var err error
	for _, cb := range cols {
		switch cb.spec {
		case specObjActor:
			oc.objActor, err = oc.objActor.Load(cb.data)
		case specObjCtr:
			oc.objCtr, err = oc.objCtr.Load(cb.data)
		case specKeyActor:
			oc.keyActor, err = oc.keyActor.Load(cb.data)
		case specKeyCtr:
			oc.keyCtr, err = oc.keyCtr.Load(cb.data)
		case specKeyStr:
			oc.keyStr, err = oc.keyStr.Load(cb.data)
		case specIdActor:
			oc.idActor, err = oc.idActor.Load(cb.data)
		case specIdCtr:
			oc.idCtr, err = oc.idCtr.Load(cb.data)
		case specInsert:
			oc.insert, err = oc.insert.Load(cb.data)
		case specAction:
			oc.action, err = oc.action.Load(cb.data)
		case specValMeta:
			oc.valMeta, err = oc.valMeta.Load(cb.data)
		case specValue:
			oc.value, err = oc.value.Load(cb.data)
		case specRefCount:
			oc.refCnt, err = oc.refCnt.Load(cb.data)
		case specRefActor:
			oc.refActor, err = oc.refActor.Load(cb.data)
		case specRefCtr:
			oc.refCtr, err = oc.refCtr.Load(cb.data)
		case specExpand:
			oc.expand, err = oc.expand.Load(cb.data)
		case specMarkName:
			oc.markName, err = oc.markName.Load(cb.data)
		default:
			// unknown columns from a newer writer are skipped
		}
		if err != nil {
			return ParseError{ParseInvalidOpColumn, err.Error()}
		}
	}
	return nil
}

// rowOp is one decoded op row before actor translation.
type rowOp struct {
	id     OpId
	obj    ObjectId
	key    Key
	insert bool
	action OpType
	refs   []OpId
}

// readRows decodes every row, translating actor indexes through actorAt.
func (oc *opColumns) readRows(n int, ids []OpId, actorAt func(int) (ActorId, bool)) ([]rowOp, error) {
	objActor := oc.objActor.Iter()
	objCtr := oc.objCtr.Iter()
	keyActor := oc.keyActor.Iter()
	keyCtr := oc.keyCtr.Iter()
	keyStr := oc.keyStr.Iter()
	idActor := oc.idActor.Iter()
	idCtr := oc.idCtr.Iter()
	insert := oc.insert.Iter()
	action := oc.action.Iter()
	valMeta := oc.valMeta.Iter()
	refCnt := oc.refCnt.Iter()
	refActor := oc.refActor.Iter()
	refCtr := oc.refCtr.Iter()
	expand := oc.expand.Iter()
	markName := oc.markName.Iter()
	voff := 0

	actor := func(i uint64) (ActorId, error) {
		a, ok := actorAt(int(i))
		if !ok {
			return ActorId{}, ParseError{ParseInvalidOpColumn, "actor index out of range"}
		}
		return a, nil
	}

	rows := make([]rowOp, 0, n)
	for i := 0; i < n; i++ {
		var row rowOp
		if oc.withIds {
			ia, ok := idActor.Next()
			ic, _ := idCtr.Next()
			if !ok || ia.Null || ic.Null {
				return nil, ParseError{ParseInvalidOpColumn, "missing op id"}
			}
			a, err := actor(ia.Val)
			if err != nil {
				return nil, err
			}
			row.id = OpId{uint64(ic.Val), a}
		} else if ids != nil {
			row.id = ids[i]
		}
		oa, ok := objActor.Next()
		ocr, ok2 := objCtr.Next()
		if !ok || !ok2 {
			return nil, ParseError{ParseInvalidOpColumn, "missing obj"}
		}
		if !oa.Null {
			a, err := actor(oa.Val)
			if err != nil {
				return nil, err
			}
			row.obj = ObjId(OpId{ocr.Val, a})
		}
		ks, _ := keyStr.Next()
		ka, _ := keyActor.Next()
		kc, _ := keyCtr.Next()
		if !ks.Null {
			if ks.Val == "" {
				return nil, ParseError{ParseInvalidOpColumn, "empty map key"}
			}
			row.key = MapKey(ks.Val)
		} else if ka.Null {
			row.key = SeqKey(Head)
		} else {
			a, err := actor(ka.Val)
			if err != nil {
				return nil, err
			}
			row.key = SeqKey(ElemId(OpId{uint64(kc.Val), a}))
		}
		ins, _ := insert.Next()
		row.insert = ins
		ac, ok := action.Next()
		if !ok || ac.Null {
			return nil, ParseError{ParseInvalidOpColumn, "missing action"}
		}
		vm, _ := valMeta.Next()
		var val ScalarValue
		if !vm.Null {
			raw := oc.value.ReadAt(voff, columnar.MetaLength(vm.Val))
			voff += columnar.MetaLength(vm.Val)
			var err error
			val, err = decodeValue(vm.Val, raw, actorAt)
			if err != nil {
				return nil, err
			}
		}
		exp, _ := expand.Next()
		mn, _ := markName.Next()
		switch ac.Val {
		case actMakeMap:
			row.action = MakeOp(TypeMap)
		case actMakeList:
			row.action = MakeOp(TypeList)
		case actMakeText:
			row.action = MakeOp(TypeText)
		case actMakeTable:
			row.action = MakeOp(TypeTable)
		case actPut:
			row.action = PutOp(val)
		case actDelete:
			row.action = DeleteOp()
		case actIncrement:
			if val.Kind != KindInt {
				return nil, ParseError{ParseInvalidOpColumn, "increment without amount"}
			}
			row.action = IncrementOp(val.I)
		case actMarkBegin:
			if mn.Null {
				return nil, ParseError{ParseInvalidOpColumn, "mark begin without name"}
			}
			row.action = MarkBeginOp(exp, MarkData{mn.Val, val})
		case actMarkEnd:
			row.action = MarkEndOp(exp)
		default:
			return nil, ParseError{ParseInvalidOpColumn, "unknown action code"}
		}
		rc, _ := refCnt.Next()
		cnt := 0
		if !rc.Null {
			cnt = int(rc.Val)
		}
		for k := 0; k < cnt; k++ {
			ra, ok := refActor.Next()
			rcr, ok2 := refCtr.Next()
			if !ok || !ok2 {
				return nil, ParseError{ParseInvalidOpColumn, "truncated ref group"}
			}
			a, err := actor(ra.Val)
			if err != nil {
				return nil, err
			}
			row.refs = append(row.refs, OpId{uint64(rcr.Val), a})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Body renders the canonical change body: metadata, actor table, column
// metadata, column bodies, extra.
func (c *Change) Body() []byte {
	if c.body != nil {
		return c.body
	}
	table := c.actorTable()
	idx := map[ActorId]uint64{c.Actor: 0}
	for i, a := range table {
		idx[a] = uint64(i + 1)
	}
	oc := newOpColumns(false)
	for i := range c.Ops {
		op := &c.Ops[i]
		oc.push(c.OpId(i), op.Obj, op.Key, op.Insert, op.Action, op.Pred,
			func(a ActorId) uint64 { return idx[a] })
	}
	cols := oc.save()

	var b bytes.Buffer
	columnar.PutUleb(&b, 16)
	b.Write(c.Actor[:])
	columnar.PutUleb(&b, c.Seq)
	columnar.PutUleb(&b, c.StartOp)
	columnar.PutSleb(&b, c.Time)
	columnar.PutUleb(&b, uint64(len(c.Message)))
	b.WriteString(c.Message)
	columnar.PutUleb(&b, uint64(len(c.Deps)))
	for _, d := range c.Deps {
		b.Write(d[:])
	}
	columnar.PutUleb(&b, uint64(len(table)))
	for _, a := range table {
		columnar.PutUleb(&b, 16)
		b.Write(a[:])
	}
	columnar.PutUleb(&b, uint64(len(cols)))
	for _, cb := range cols {
		columnar.PutUleb(&b, uint64(cb.spec))
		columnar.PutUleb(&b, uint64(len(cb.data)))
	}
	for _, cb := range cols {
		b.Write(cb.data)
	}
	b.Write(c.Extra)
	c.body = b.Bytes()
	return c.body
}

// Save wraps the body in a change chunk.
func (c *Change) Save() []byte {
	var out bytes.Buffer
	WriteChunk(&out, ChunkChange, c.Body())
	return out.Bytes()
}

func readActorBytes(data []byte, pos int) (ActorId, int, error) {
	var a ActorId
	l, pos, ok := columnar.Uleb(data, pos)
	if !ok || l != 16 || pos+16 > len(data) {
		return a, pos, ParseError{ParseTruncated, "actor id"}
	}
	copy(a[:], data[pos:pos+16])
	return a, pos + 16, nil
}

// DecodeChangeBody parses a change chunk body.
func DecodeChangeBody(body []byte) (*Change, error) {
	c := &Change{}
	actor, pos, err := readActorBytes(body, 0)
	if err != nil {
		return nil, err
	}
	c.Actor = actor
	var ok bool
	if c.Seq, pos, ok = columnar.Uleb(body, pos); !ok {
		return nil, ParseError{ParseTruncated, "seq"}
	}
	if c.StartOp, pos, ok = columnar.Uleb(body, pos); !ok {
		return nil, ParseError{ParseTruncated, "start_op"}
	}
	if c.Time, pos, ok = columnar.Sleb(body, pos); !ok {
		return nil, ParseError{ParseTruncated, "time"}
	}
	var msgLen uint64
	if msgLen, pos, ok = columnar.Uleb(body, pos); !ok || pos+int(msgLen) > len(body) {
		return nil, ParseError{ParseTruncated, "message"}
	}
	c.Message = string(body[pos : pos+int(msgLen)])
	pos += int(msgLen)
	var depCount uint64
	if depCount, pos, ok = columnar.Uleb(body, pos); !ok || pos+int(depCount)*32 > len(body) {
		return nil, ParseError{ParseTruncated, "deps"}
	}
	for i := uint64(0); i < depCount; i++ {
		var h ChangeHash
		copy(h[:], body[pos:pos+32])
		pos += 32
		c.Deps = append(c.Deps, h)
	}
	var tableCount uint64
	if tableCount, pos, ok = columnar.Uleb(body, pos); !ok {
		return nil, ParseError{ParseTruncated, "actor table"}
	}
	table := make([]ActorId, 0, tableCount)
	for i := uint64(0); i < tableCount; i++ {
		var a ActorId
		if a, pos, err = readActorBytes(body, pos); err != nil {
			return nil, err
		}
		table = append(table, a)
	}
	cols, pos, err := readColumnMeta(body, pos)
	if err != nil {
		return nil, err
	}
	c.Extra = append([]byte(nil), body[pos:]...)

	oc := newOpColumns(false)
	if err := oc.load(cols); err != nil {
		return nil, err
	}
	n := oc.action.Len()
	ids := make([]OpId, n)
	for i := 0; i < n; i++ {
		ids[i] = OpId{c.StartOp + uint64(i), c.Actor}
	}
	actorAt := func(i int) (ActorId, bool) {
		if i == 0 {
			return c.Actor, true
		}
		if i-1 < len(table) {
			return table[i-1], true
		}
		return ActorId{}, false
	}
	rows, err := oc.readRows(n, ids, actorAt)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		c.Ops = append(c.Ops, ChangeOp{r.obj, r.key, r.insert, r.action, r.refs})
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.body = append([]byte(nil), body...)
	return c, nil
}

func readColumnMeta(body []byte, pos int) ([]columnBody, int, error) {
	colCount, pos, ok := columnar.Uleb(body, pos)
	if !ok {
		return nil, pos, ParseError{ParseTruncated, "column meta"}
	}
	type colHead struct {
		spec   uint32
		length int
	}
	heads := make([]colHead, 0, colCount)
	for i := uint64(0); i < colCount; i++ {
		var spec, l uint64
		if spec, pos, ok = columnar.Uleb(body, pos); !ok {
			return nil, pos, ParseError{ParseTruncated, "column spec"}
		}
		if l, pos, ok = columnar.Uleb(body, pos); !ok {
			return nil, pos, ParseError{ParseTruncated, "column length"}
		}
		heads = append(heads, colHead{uint32(spec), int(l)})
	}
	var cols []columnBody
	for _, h := range heads {
		if pos+h.length > len(body) {
			return nil, pos, ParseError{ParseTruncated, "column body"}
		}
		cols = append(cols, columnBody{h.spec, body[pos : pos+h.length]})
		pos += h.length
	}
	return cols, pos, nil
}

// LoadChange parses a single change chunk.
func LoadChange(data []byte) (*Change, error) {
	chunkType, body, rest, err := ReadChunk(data)
	if err != nil {
		return nil, err
	}
	if chunkType != ChunkChange {
		return nil, ParseError{ParseBadHeader, "not a change chunk"}
	}
	if len(rest) > 0 {
		return nil, ParseError{ParseBadHeader, "trailing bytes"}
	}
	return DecodeChangeBody(body)
}
