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

import "sort"
import "time"

// Transaction accumulates local ops against the current state. A failing
// single-op call produces nothing; the multi-op calls (Splice, SpliceText,
// Mark, UpdateBlock, UpdateSpans) stop at the first failure and keep the ops
// produced before it. A failure does not roll back the range by itself;
// Rollback retracts the whole range in reverse.
type Transaction struct {
	d       *Document
	actor   ActorId
	nextOp  uint64
	deps    []ChangeHash
	seq     uint64
	time    int64
	message string
	clock   *Clock // historical scope, nil = current
	done    []txOp
	patches *PatchLog
	closed  bool
}

// txOp remembers enough to retract one produced op.
type txOp struct {
	op    ChangeOp
	id    OpId
	preds []OpId
}

// Transact opens a transaction against the current state.
func (d *Document) Transact() *Transaction {
	return &Transaction{
		d:       d,
		actor:   d.actor,
		nextOp:  d.maxOp + 1,
		deps:    d.GetHeads(),
		seq:     d.seqClock[d.actor] + 1,
		time:    time.Now().Unix(),
		patches: &PatchLog{},
	}
}

// TransactAt opens a transaction scoped to a historical clock: edits are
// made as if the document still had the state it had under those heads.
func (d *Document) TransactAt(heads []ChangeHash) (*Transaction, error) {
	clock, err := d.ClockAt(heads)
	if err != nil {
		return nil, err
	}
	t := d.Transact()
	t.clock = clock
	t.deps = append([]ChangeHash(nil), heads...)
	return t, nil
}

func (t *Transaction) SetMessage(m string)  { t.message = m }
func (t *Transaction) SetTime(ts int64)     { t.time = ts }
func (t *Transaction) Patches() *PatchLog   { return t.patches }
func (t *Transaction) PendingOps() int      { return len(t.done) }

func (t *Transaction) freshId() OpId {
	return OpId{t.nextOp + uint64(len(t.done)), t.actor}
}

// produce splices one op into the op-set and records it for commit and
// rollback.
func (t *Transaction) produce(op ChangeOp) error {
	full := &Op{
		Id:     t.freshId(),
		Obj:    op.Obj,
		Key:    op.Key,
		Insert: op.Insert,
		Action: op.Action,
		Pred:   op.Pred,
	}
	res, err := t.d.ops.findOpPos(full)
	if err != nil {
		return err
	}
	t.d.ops.InsertOp(res.pos, full)
	for _, ppos := range res.pred {
		t.d.ops.AddSucc(ppos, full.Id)
	}
	t.done = append(t.done, txOp{op, full.Id, op.Pred})
	return nil
}

func (t *Transaction) checkObj(obj ObjectId, wantSeq bool) (ObjType, error) {
	typ, _, ok := t.d.ops.Object(obj)
	if !ok {
		return 0, MissingObjectError{obj}
	}
	if typ.IsSequence() != wantSeq {
		return typ, InvalidOpError{typ}
	}
	return typ, nil
}

// predsForProp are the currently visible ops a map assignment overwrites.
func (t *Transaction) predsForProp(obj ObjectId, prop string) []PosOp {
	return t.d.ops.Prop(obj, prop, t.clock).Ops
}

func predIds(ops []PosOp) []OpId {
	var out []OpId
	for _, po := range ops {
		out = insertOpId(out, po.Op.Id)
	}
	return out
}

// Put assigns a scalar at a map key. Writing the value the slot already
// holds with no conflict pending is a no-op.
func (t *Transaction) Put(obj ObjectId, prop string, v ScalarValue) error {
	if _, err := t.checkObj(obj, false); err != nil {
		return err
	}
	if prop == "" {
		return ErrEmptyStringKey
	}
	vis := t.predsForProp(obj, prop)
	if len(vis) == 1 && vis[0].Op.Action.Kind == ActionPut &&
		vis[0].Op.Action.Value.Equal(v) && v.Kind != KindCounter {
		return nil
	}
	if v.Kind == KindCursor {
		if _, ok := t.d.ops.OpIdSearch(obj, v.Opid); !ok {
			// cursor targets live in sequences; accept an op id found in any sequence object
			if !t.cursorTargetExists(v.Opid) {
				return ErrInvalidCursor
			}
		}
	}
	err := t.produce(ChangeOp{Obj: obj, Key: MapKey(prop), Action: PutOp(v), Pred: predIds(vis)})
	if err != nil {
		return err
	}
	t.patches.Put(obj, KeyProp(prop), PatchValue{Scalar: v, Id: t.lastId()}, false)
	return nil
}

func (t *Transaction) cursorTargetExists(id OpId) bool {
	found := false
	t.d.ops.EachObject(func(o ObjectId, typ ObjType) bool {
		if !typ.IsSequence() {
			return true
		}
		if _, ok := t.d.ops.OpIdSearch(o, id); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

func (t *Transaction) lastId() OpId {
	return t.done[len(t.done)-1].id
}

// PutObject creates a container at a map key and returns its id.
func (t *Transaction) PutObject(obj ObjectId, prop string, typ ObjType) (ObjectId, error) {
	if _, err := t.checkObj(obj, false); err != nil {
		return Root, err
	}
	if prop == "" {
		return Root, ErrEmptyStringKey
	}
	vis := t.predsForProp(obj, prop)
	err := t.produce(ChangeOp{Obj: obj, Key: MapKey(prop), Action: MakeOp(typ), Pred: predIds(vis)})
	if err != nil {
		return Root, err
	}
	id := ObjId(t.lastId())
	t.patches.Put(obj, KeyProp(prop), PatchValue{IsObject: true, ObjType: typ, Id: t.lastId()}, false)
	return id, nil
}

// Insert places a scalar before index n of a sequence.
func (t *Transaction) Insert(obj ObjectId, index int, v ScalarValue) error {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return err
	}
	_, key, err := t.d.ops.InsertNth(obj, index, listEncoding(typ), t.clock)
	if err != nil {
		return err
	}
	err = t.produce(ChangeOp{Obj: obj, Key: key, Insert: true, Action: PutOp(v)})
	if err != nil {
		return err
	}
	t.patches.Insert(obj, index, PatchValue{Scalar: v, Id: t.lastId()}, false)
	return nil
}

// InsertObject places a container before index n of a sequence.
func (t *Transaction) InsertObject(obj ObjectId, index int, typ ObjType) (ObjectId, error) {
	seqTyp, err := t.checkObj(obj, true)
	if err != nil {
		return Root, err
	}
	_, key, err := t.d.ops.InsertNth(obj, index, listEncoding(seqTyp), t.clock)
	if err != nil {
		return Root, err
	}
	err = t.produce(ChangeOp{Obj: obj, Key: key, Insert: true, Action: MakeOp(typ)})
	if err != nil {
		return Root, err
	}
	id := ObjId(t.lastId())
	t.patches.Insert(obj, index, PatchValue{IsObject: true, ObjType: typ, Id: t.lastId()}, false)
	return id, nil
}

// PutIndex overwrites the element at index n with a scalar.
func (t *Transaction) PutIndex(obj ObjectId, index int, v ScalarValue) error {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return err
	}
	enc := listEncoding(typ)
	winner, err := t.d.ops.Nth(obj, index, enc, t.clock)
	if err != nil {
		return err
	}
	elem := winner.Op.ElemIdOrKey().Elem
	var vis []PosOp
	t.d.ops.eachElem(obj, t.clock, enc, func(e *seqElem) bool {
		if e.elem != elem {
			return true
		}
		for _, po := range e.ops {
			if t.d.ops.Visible(po.Op, t.clock) {
				vis = append(vis, po)
			}
		}
		return false
	})
	if len(vis) == 1 && vis[0].Op.Action.Kind == ActionPut &&
		vis[0].Op.Action.Value.Equal(v) && v.Kind != KindCounter {
		return nil
	}
	err = t.produce(ChangeOp{Obj: obj, Key: SeqKey(elem), Action: PutOp(v), Pred: predIds(vis)})
	if err != nil {
		return err
	}
	t.patches.Put(obj, IndexProp(index), PatchValue{Scalar: v, Id: t.lastId()}, false)
	return nil
}

// Delete removes a map key.
func (t *Transaction) Delete(obj ObjectId, prop string) error {
	if _, err := t.checkObj(obj, false); err != nil {
		return err
	}
	vis := t.predsForProp(obj, prop)
	if len(vis) == 0 {
		return nil
	}
	err := t.produce(ChangeOp{Obj: obj, Key: MapKey(prop), Action: DeleteOp(), Pred: predIds(vis)})
	if err != nil {
		return err
	}
	t.patches.DeleteMap(obj, prop)
	return nil
}

// DeleteIndex removes the element at index n.
func (t *Transaction) DeleteIndex(obj ObjectId, index int) error {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return err
	}
	enc := listEncoding(typ)
	winner, err := t.d.ops.Nth(obj, index, enc, t.clock)
	if err != nil {
		return err
	}
	elem := winner.Op.ElemIdOrKey().Elem
	var vis []PosOp
	t.d.ops.eachElem(obj, t.clock, enc, func(e *seqElem) bool {
		if e.elem != elem {
			return true
		}
		for _, po := range e.ops {
			if t.d.ops.Visible(po.Op, t.clock) {
				vis = append(vis, po)
			}
		}
		return false
	})
	err = t.produce(ChangeOp{Obj: obj, Key: SeqKey(elem), Action: DeleteOp(), Pred: predIds(vis)})
	if err != nil {
		return err
	}
	t.patches.DeleteSeq(obj, index, 1)
	return nil
}

// Increment bumps the counter at a map key or list index.
func (t *Transaction) Increment(obj ObjectId, prop Prop, n int64) error {
	typ, _, ok := t.d.ops.Object(obj)
	if !ok {
		return MissingObjectError{obj}
	}
	if prop.IsIndex != typ.IsSequence() {
		return InvalidOpError{typ}
	}
	var vis []PosOp
	var key Key
	if prop.IsIndex {
		winner, err := t.d.ops.Nth(obj, prop.Index, listEncoding(typ), t.clock)
		if err != nil {
			return err
		}
		key = SeqKey(winner.Op.ElemIdOrKey().Elem)
		vis = []PosOp{winner}
	} else {
		key = MapKey(prop.Key)
		vis = t.predsForProp(obj, prop.Key)
	}
	var counters []PosOp
	for _, po := range vis {
		if po.Op.Action.IsCounter() {
			counters = append(counters, po)
		}
	}
	if len(counters) == 0 {
		return ErrMissingCounter
	}
	err := t.produce(ChangeOp{Obj: obj, Key: key, Action: IncrementOp(n), Pred: predIds(counters)})
	if err != nil {
		return err
	}
	t.patches.Increment(obj, prop, n, t.lastId())
	return nil
}

// Splice deletes del elements at index and inserts vals in their place.
func (t *Transaction) Splice(obj ObjectId, index, del int, vals []ScalarValue) error {
	if _, err := t.checkObj(obj, true); err != nil {
		return err
	}
	for i := 0; i < del; i++ {
		if err := t.DeleteIndex(obj, index); err != nil {
			return err
		}
	}
	for i, v := range vals {
		if err := t.Insert(obj, index+i, v); err != nil {
			return err
		}
	}
	return nil
}

// SpliceText edits a Text object. A negative del deletes behind the
// index. Indexes count grapheme clusters, so they always fall on a
// cluster boundary.
func (t *Transaction) SpliceText(obj ObjectId, index, del int, text string) error {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return err
	}
	if typ != TypeText {
		return InvalidOpError{typ}
	}
	if del < 0 {
		index += del
		del = -del
		if index < 0 {
			del += index
			index = 0
		}
	}
	for i := 0; i < del; i++ {
		if err := t.DeleteIndex(obj, index); err != nil {
			return err
		}
	}
	for i, g := range graphemes(text) {
		if err := t.Insert(obj, index+i, Str(g)); err != nil {
			return err
		}
	}
	return nil
}

// Mark attaches a rich-text attribute over [start, end). The expand flags
// control whether text inserted at the boundaries joins the span.
func (t *Transaction) Mark(obj ObjectId, start, end int, name string, value ScalarValue, expandLeft, expandRight bool) error {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return err
	}
	enc := listEncoding(typ)
	if start >= end || start < 0 {
		return ErrInvalidIndex
	}
	if n := t.d.ops.SeqLen(obj, enc, t.clock); end > n {
		return ErrInvalidIndex
	}
	// marks are zero-width elements of the insertion tree: the begin op
	// sits before the first marked element, the end op after the last
	_, kb, err := t.d.ops.InsertNth(obj, start, enc, t.clock)
	if err != nil {
		return err
	}
	err = t.produce(ChangeOp{
		Obj: obj, Key: kb, Insert: true,
		Action: MarkBeginOp(expandLeft, MarkData{name, value}),
	})
	if err != nil {
		return err
	}
	_, ke, err := t.d.ops.InsertNth(obj, end, enc, t.clock)
	if err != nil {
		return err
	}
	err = t.produce(ChangeOp{
		Obj: obj, Key: ke, Insert: true,
		Action: MarkEndOp(expandRight),
	})
	if err != nil {
		return err
	}
	t.patches.Mark(obj, name, value, start, end)
	return nil
}

// Unmark clears an attribute over a span by writing a null mark.
func (t *Transaction) Unmark(obj ObjectId, start, end int, name string) error {
	err := t.Mark(obj, start, end, name, Null(), false, false)
	if err != nil {
		return err
	}
	// rewrite the recorded patch as an unmark
	t.patches.Events = t.patches.Events[:len(t.patches.Events)-1]
	t.patches.Unmark(obj, name, start, end)
	return nil
}

// SplitBlock inserts a block boundary object at index and returns it.
func (t *Transaction) SplitBlock(obj ObjectId, index int) (ObjectId, error) {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return Root, err
	}
	if typ != TypeText {
		return Root, InvalidOpError{typ}
	}
	return t.InsertObject(obj, index, TypeMap)
}

// JoinBlock removes the block boundary at index.
func (t *Transaction) JoinBlock(obj ObjectId, index int) error {
	winner, err := t.d.ops.Nth(obj, index, EncodeText, t.clock)
	if err != nil {
		return err
	}
	if winner.Op.Action.Kind != ActionMake {
		return ErrNotAnObject
	}
	return t.DeleteIndex(obj, index)
}

// UpdateBlock replaces the metadata of the block at index.
func (t *Transaction) UpdateBlock(obj ObjectId, index int, fields map[string]ScalarValue) error {
	winner, err := t.d.ops.Nth(obj, index, EncodeText, t.clock)
	if err != nil {
		return err
	}
	if winner.Op.Action.Kind != ActionMake {
		return ErrNotAnObject
	}
	block := ObjId(winner.Op.Id)
	for _, k := range sortedKeys(fields) {
		if err := t.Put(block, k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSpans rewrites a Text object to match the given spans. It deletes
// the whole current content and inserts the spans afresh; existing text is
// not reused, even where it already agrees.
func (t *Transaction) UpdateSpans(obj ObjectId, spans []Span) error {
	typ, err := t.checkObj(obj, true)
	if err != nil {
		return err
	}
	if typ != TypeText {
		return InvalidOpError{typ}
	}
	// plain rewrite: clear and refill
	n := t.d.ops.SeqLen(obj, EncodeText, t.clock)
	if err := t.SpliceText(obj, 0, n, ""); err != nil {
		return err
	}
	index := 0
	for _, sp := range spans {
		if sp.IsBlock {
			if _, err := t.SplitBlock(obj, index); err != nil {
				return err
			}
			index++
			continue
		}
		if err := t.SpliceText(obj, index, 0, sp.Text); err != nil {
			return err
		}
		w := graphemeCount(sp.Text)
		for _, name := range sortedMarkKeys(sp.Marks) {
			if err := t.Mark(obj, index, index+w, name, sp.Marks[name], true, false); err != nil {
				return err
			}
		}
		index += w
	}
	return nil
}

func sortedKeys(m map[string]ScalarValue) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMarkKeys(m map[string]ScalarValue) []string { return sortedKeys(m) }

// Commit seals the range into a Change and appends it to history through
// the same bookkeeping as a remote change.
func (t *Transaction) Commit() (*Change, error) {
	if t.closed {
		panic("transaction already closed")
	}
	t.closed = true
	if len(t.done) == 0 {
		return nil, nil
	}
	c := &Change{
		Actor:   t.actor,
		Seq:     t.seq,
		StartOp: t.nextOp,
		Time:    t.time,
		Message: t.message,
		Deps:    append([]ChangeHash(nil), t.deps...),
	}
	c.SortDeps()
	for _, op := range t.done {
		c.Ops = append(c.Ops, op.op)
	}
	h := c.Hash()
	d := t.d
	d.historyIndex[h] = len(d.history)
	d.history = append(d.history, c)
	for _, dep := range c.Deps {
		delete(d.heads, dep)
	}
	d.heads[h] = struct{}{}
	d.seqClock[c.Actor] = c.Seq
	if m := c.MaxOp(); m > d.maxOp {
		d.maxOp = m
	}
	return c, nil
}

// Rollback retracts every produced op in reverse order.
func (t *Transaction) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	for i := len(t.done) - 1; i >= 0; i-- {
		op := t.done[i]
		pos, ok := t.d.ops.OpIdSearch(op.op.Obj, op.id)
		if !ok {
			panic("rollback lost op " + op.id.String())
		}
		for _, pred := range op.preds {
			if ppos, ok := t.d.ops.OpIdSearch(op.op.Obj, pred); ok {
				t.d.ops.RemoveSucc(ppos, op.id)
			}
		}
		t.d.ops.RemoveOp(pos)
	}
	t.done = nil
}
