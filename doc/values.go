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

import "strings"

// Read accessors. The *At variants evaluate under the clock of a past set
// of heads; the plain forms read the current state.

func (d *Document) objType(obj ObjectId) (ObjType, error) {
	typ, _, ok := d.ops.Object(obj)
	if !ok {
		return 0, MissingObjectError{obj}
	}
	return typ, nil
}

func (os *OpSet) winnerValue(po PosOp, clock *Clock) PatchValue {
	op := po.Op
	if op.Action.Kind == ActionMake {
		return PatchValue{IsObject: true, ObjType: op.Action.ObjType, Id: op.Id}
	}
	v := op.Action.Value
	if v.Kind == KindCounter {
		v = Counter(os.CounterValue(op, clock))
	}
	return PatchValue{Scalar: v, Id: op.Id}
}

// valuesAt returns all visible candidates for a map key or list index, in
// id order; the last one is the winner.
func (d *Document) valuesAt(obj ObjectId, prop Prop, clock *Clock) ([]PatchValue, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return nil, err
	}
	if prop.IsIndex != typ.IsSequence() {
		return nil, InvalidOpError{typ}
	}
	if prop.IsIndex {
		winner, err := d.ops.Nth(obj, prop.Index, listEncoding(typ), clock)
		if err != nil {
			return nil, err
		}
		// all visible ops of the winner's element group
		elem := winner.Op.ElemIdOrKey().Elem
		var out []PatchValue
		d.ops.eachElem(obj, clock, listEncoding(typ), func(e *seqElem) bool {
			if e.elem != elem {
				return true
			}
			for _, po := range e.ops {
				if d.ops.Visible(po.Op, clock) {
					out = append(out, d.ops.winnerValue(po, clock))
				}
			}
			return false
		})
		return out, nil
	}
	res := d.ops.Prop(obj, prop.Key, clock)
	var out []PatchValue
	for _, po := range res.Ops {
		out = append(out, d.ops.winnerValue(po, clock))
	}
	return out, nil
}

// Values returns every conflicting candidate at the slot; the winner is
// the final entry.
func (d *Document) Values(obj ObjectId, prop Prop) ([]PatchValue, error) {
	return d.valuesAt(obj, prop, nil)
}

func (d *Document) ValuesAt(obj ObjectId, prop Prop, heads []ChangeHash) ([]PatchValue, error) {
	clock, err := d.ClockAt(heads)
	if err != nil {
		return nil, err
	}
	return d.valuesAt(obj, prop, clock)
}

// Value returns the winning value at the slot, or ok=false when the slot
// is empty.
func (d *Document) Value(obj ObjectId, prop Prop) (PatchValue, bool, error) {
	vals, err := d.Values(obj, prop)
	if err != nil {
		if err == ErrInvalidIndex {
			return PatchValue{}, false, nil
		}
		return PatchValue{}, false, err
	}
	if len(vals) == 0 {
		return PatchValue{}, false, nil
	}
	return vals[len(vals)-1], true, nil
}

func (d *Document) ValueAt(obj ObjectId, prop Prop, heads []ChangeHash) (PatchValue, bool, error) {
	vals, err := d.ValuesAt(obj, prop, heads)
	if err != nil {
		if err == ErrInvalidIndex {
			return PatchValue{}, false, nil
		}
		return PatchValue{}, false, err
	}
	if len(vals) == 0 {
		return PatchValue{}, false, nil
	}
	return vals[len(vals)-1], true, nil
}

// GetConflicts lists all visible candidates when more than one op
// survives at the slot.
func (d *Document) GetConflicts(obj ObjectId, prop Prop) ([]PatchValue, error) {
	vals, err := d.Values(obj, prop)
	if err != nil {
		return nil, err
	}
	if len(vals) < 2 {
		return nil, nil
	}
	return vals, nil
}

func listEncoding(typ ObjType) ListEncoding {
	if typ == TypeText {
		return EncodeText
	}
	return EncodeList
}

// Keys lists the visible map keys.
func (d *Document) Keys(obj ObjectId) ([]string, error) {
	return d.KeysAt(obj, nil)
}

func (d *Document) KeysAt(obj ObjectId, heads []ChangeHash) ([]string, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return nil, err
	}
	if typ.IsSequence() {
		return nil, InvalidOpError{typ}
	}
	clock, err := d.ClockAt(heads)
	if err != nil {
		return nil, err
	}
	return d.ops.Keys(obj, clock), nil
}

// Length is the visible size of an object: keys for maps, elements for
// lists, graphemes for text.
func (d *Document) Length(obj ObjectId) (int, error) {
	return d.LengthAt(obj, nil)
}

func (d *Document) LengthAt(obj ObjectId, heads []ChangeHash) (int, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return 0, err
	}
	clock, err := d.ClockAt(heads)
	if err != nil {
		return 0, err
	}
	if typ.IsSequence() {
		return d.ops.SeqLen(obj, listEncoding(typ), clock), nil
	}
	return d.ops.MapLen(obj, clock), nil
}

// Text renders a Text object as a string.
func (d *Document) Text(obj ObjectId) (string, error) {
	return d.TextAt(obj, nil)
}

func (d *Document) TextAt(obj ObjectId, heads []ChangeHash) (string, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return "", err
	}
	if typ != TypeText {
		return "", InvalidOpError{typ}
	}
	clock, err := d.ClockAt(heads)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	d.ops.eachElem(obj, clock, EncodeText, func(e *seqElem) bool {
		if e.winner != nil {
			b.WriteString(opText(e.winner.Op))
		}
		return true
	})
	return b.String(), nil
}

// GetCursor makes a stable handle to the element currently at index.
func (d *Document) GetCursor(obj ObjectId, index int) (OpId, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return OpId{}, err
	}
	if !typ.IsSequence() {
		return OpId{}, InvalidOpError{typ}
	}
	po, err := d.ops.Nth(obj, index, listEncoding(typ), nil)
	if err != nil {
		return OpId{}, ErrInvalidCursor
	}
	return po.Op.ElemIdOrKey().Elem.id, nil
}

// CursorToPosition resolves a cursor back to the current index of its
// target. A deleted target resolves to the index of the next surviving
// element.
func (d *Document) CursorToPosition(obj ObjectId, cursor OpId) (int, error) {
	return d.CursorToPositionAt(obj, cursor, nil)
}

func (d *Document) CursorToPositionAt(obj ObjectId, cursor OpId, heads []ChangeHash) (int, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return 0, err
	}
	if !typ.IsSequence() {
		return 0, InvalidOpError{typ}
	}
	clock, err := d.ClockAt(heads)
	if err != nil {
		return 0, err
	}
	if _, ok := d.ops.OpIdSearch(obj, cursor); !ok {
		return 0, ErrInvalidCursor
	}
	idx, _ := d.ops.ElemIdPos(obj, ElemId(cursor), listEncoding(typ), clock)
	return idx, nil
}

// Span is one run of a Spans enumeration: either a text run with its
// active marks, or a block boundary object.
type Span struct {
	IsBlock bool
	Block   ObjectId
	Text    string
	Marks   map[string]ScalarValue
}

// Spans enumerates a Text object as alternating text runs and block
// markers, with the marks active over each run.
func (d *Document) Spans(obj ObjectId) ([]Span, error) {
	typ, err := d.objType(obj)
	if err != nil {
		return nil, err
	}
	if typ != TypeText {
		return nil, InvalidOpError{typ}
	}
	active := map[string]ScalarValue{}
	opened := map[OpId]MarkData{}
	var out []Span
	var run strings.Builder
	runMarks := map[string]ScalarValue{}
	sameMarks := func() bool {
		if len(runMarks) != len(active) {
			return false
		}
		for k, v := range active {
			if rv, ok := runMarks[k]; !ok || !rv.Equal(v) {
				return false
			}
		}
		return true
	}
	flush := func() {
		if run.Len() == 0 {
			return
		}
		marks := make(map[string]ScalarValue, len(runMarks))
		for k, v := range runMarks {
			marks[k] = v
		}
		out = append(out, Span{Text: run.String(), Marks: marks})
		run.Reset()
	}
	start, end := d.ops.ObjRange(obj)
	for pos := start; pos < end; pos++ {
		op := d.ops.ReadOp(pos)
		op.Obj = obj
		switch op.Action.Kind {
		case ActionMarkBegin:
			if !d.ops.markClosedOrDead(op) {
				opened[op.Id] = MarkData{op.Action.Mark, op.Action.Value}
				flush()
				if op.Action.Value.Kind == KindNull {
					delete(active, op.Action.Mark) // null mark clears the attribute
				} else {
					active[op.Action.Mark] = op.Action.Value
				}
			}
		case ActionMarkEnd:
			beginId := OpId{op.Id.Counter - 1, op.Id.Actor}
			if m, ok := opened[beginId]; ok {
				flush()
				delete(opened, beginId)
				delete(active, m.Name)
			}
		default:
			if !d.ops.Visible(op, nil) {
				continue
			}
			if op.Action.Kind == ActionMake {
				flush()
				out = append(out, Span{IsBlock: true, Block: ObjId(op.Id)})
				continue
			}
			if !sameMarks() {
				flush()
				runMarks = make(map[string]ScalarValue, len(active))
				for k, v := range active {
					runMarks[k] = v
				}
			}
			run.WriteString(opText(op))
		}
	}
	flush()
	return out, nil
}

// markClosedOrDead reports whether a MarkBegin was overwritten before now.
func (os *OpSet) markClosedOrDead(op *Op) bool {
	return len(op.Succ) > 0
}
