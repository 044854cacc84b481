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

// The diff walker compares the document between two clocks and streams
// observer events. Per key group every op is classified Old / New /
// Update / Delete / Mark relative to the era, and the classifications are
// folded pairwise with a fixed merge table. The table is load-bearing:
// conflict and expose semantics fall out of it.

// era is the half-open window (begin, end] the diff reports on. begin is
// never nil (an empty clock stands for the document's birth); a nil end
// means the current state.
type era struct {
	begin *Clock
	end   *Clock
}

func (e era) before(id OpId) bool { return e.begin.Covers(id) }
func (e era) after(id OpId) bool  { return !e.end.Covers(id) }
func (e era) during(id OpId) bool { return !e.before(id) && !e.after(id) }

type patchState uint8

const (
	stateOld patchState = iota
	stateDelete
	stateUpdate
	stateNew
	stateMark
)

const (
	flagConflict uint8 = 1 << 0
	flagExpose   uint8 = 1 << 1
)

// counterDiff tracks increments applied to a counter op, split by whether
// they landed before or during the era. succ is the op's successor list
// with consumed increment ids removed.
type counterDiff struct {
	before int64
	during int64
	succ   []OpId
}

type pOp struct {
	op          *Op
	ctr         *counterDiff
	preexisting bool
}

func (p *pOp) succ() []OpId {
	if p.ctr != nil {
		return p.ctr.succ
	}
	return p.op.Succ
}

func (p *pOp) increment(n int64, incId OpId, fromEra bool) {
	if p.ctr == nil {
		p.ctr = &counterDiff{succ: append([]OpId(nil), p.op.Succ...)}
	}
	if fromEra {
		p.ctr.during += n
	} else {
		p.ctr.before += n
	}
	for i, s := range p.ctr.succ {
		if s == incId {
			p.ctr.succ = append(p.ctr.succ[:i], p.ctr.succ[i+1:]...)
			break
		}
	}
}

func (p *pOp) wasChangedDuring(e era) bool {
	for _, s := range p.succ() {
		if e.during(s) {
			return true
		}
	}
	return false
}

type patch struct {
	op    pOp
	flags uint8
	state patchState
}

func (p *patch) conflict() bool { return p.flags&flagConflict != 0 }
func (p *patch) expose() bool   { return p.flags&flagExpose != 0 }

func (p *patch) eraIncrement() (int64, bool) {
	if p.op.ctr != nil {
		return p.op.ctr.during, true
	}
	return 0, false
}

func patchFromFlags(op pOp, isMark, isNew, deleted, preexisting bool) *patch {
	var st patchState
	switch {
	case isNew && !deleted && !preexisting && isMark:
		st = stateMark
	case isNew && !deleted && !preexisting:
		st = stateNew
	case isNew && !deleted && preexisting:
		st = stateUpdate
	case deleted && preexisting:
		st = stateDelete
	case !isNew && !deleted:
		st = stateOld
	default:
		return nil
	}
	return &patch{op: op, state: st}
}

// mergePatch folds two classifications of the same key group. Ported
// row-for-row; do not reorder.
func mergePatch(a, b *patch) *patch {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.state == stateMark || b.state == stateMark {
		panic("marks always come alone")
	}
	o1, f1 := a.op, a.flags
	o2, f2 := b.op, b.flags
	mk := func(op pOp, flags uint8, st patchState) *patch {
		return &patch{op: op, flags: flags, state: st}
	}
	switch {
	case a.state == stateOld && b.state == stateOld:
		return mk(o2, f1|f2, stateOld)
	case a.state == stateOld && b.state == stateDelete:
		return mk(o1, f1|flagExpose, stateOld)
	case a.state == stateOld && b.state == stateNew:
		return mk(o2, f1|f2|flagConflict, stateUpdate)
	case a.state == stateOld && b.state == stateUpdate:
		return mk(o2, f1|f2, stateUpdate)

	case a.state == stateNew && b.state == stateOld:
		return mk(o2, f2|flagConflict, stateOld)
	case a.state == stateNew && b.state == stateDelete:
		return mk(o1, f1, stateUpdate)
	case a.state == stateNew && b.state == stateNew:
		return mk(o2, f1|f2|flagConflict, stateNew)
	case a.state == stateNew && b.state == stateUpdate:
		return mk(o2, f1|f2|flagConflict, stateUpdate)

	case a.state == stateUpdate && b.state == stateOld:
		return mk(o2, f2, stateOld)
	case a.state == stateUpdate && b.state == stateDelete:
		return mk(o1, f1|flagExpose, stateUpdate)
	case a.state == stateUpdate && b.state == stateNew:
		return mk(o2, f1|f2|flagConflict, stateUpdate)
	case a.state == stateUpdate && b.state == stateUpdate:
		return mk(o2, f1|f2|flagConflict, stateUpdate)

	case a.state == stateDelete && b.state == stateDelete:
		return mk(o2, f2, stateDelete)
	case a.state == stateDelete && b.state == stateOld:
		return mk(o2, f2, stateOld)
	case a.state == stateDelete && b.state == stateNew:
		return mk(o2, f2, stateUpdate)
	case a.state == stateDelete && b.state == stateUpdate:
		return mk(o2, f2, stateUpdate)
	}
	panic("unreachable merge")
}

// diffWalker classifies one object's key groups.
type diffWalker struct {
	os     *OpSet
	era    era
	incIds map[OpId]bool // increment op ids of the current object
	ops    []pOp
}

func (w *diffWalker) loadIncIds(start, end int) {
	w.incIds = make(map[OpId]bool)
	for pos := start; pos < end; pos++ {
		ac, _ := w.os.action.Nth(pos)
		if ac.Val == actIncrement {
			w.incIds[w.os.IdAt(pos)] = true
		}
	}
}

func (w *diffWalker) incCount(op *Op) int {
	n := 0
	for _, s := range op.Succ {
		if w.incIds[s] {
			n++
		}
	}
	return n
}

func (w *diffWalker) wasDeletedBefore(op *Op) bool {
	if op.Action.IsCounter() {
		if len(op.Succ) <= w.incCount(op) {
			return false
		}
		for _, s := range op.Succ {
			if !w.era.before(s) {
				return false
			}
		}
		return true
	}
	for _, s := range op.Succ {
		if w.era.before(s) {
			return true
		}
	}
	return false
}

func (w *diffWalker) wasChangedDuringOp(op *Op) bool {
	if len(op.Succ) <= w.incCount(op) {
		return false
	}
	for _, s := range op.Succ {
		if w.era.during(s) {
			return true
		}
	}
	return false
}

func (w *diffWalker) push(op *Op) {
	if w.era.after(op.Id) || w.wasDeletedBefore(op) {
		return
	}
	switch op.Action.Kind {
	case ActionPut, ActionMake:
		preexisting := w.era.before(op.Id)
		kept := w.ops[:0]
		for i := range w.ops {
			o := w.ops[i]
			if containsOpId(op.Pred, o.op.Id) {
				preexisting = preexisting || o.preexisting
			} else {
				kept = append(kept, o)
			}
		}
		w.ops = append(kept, pOp{op: op, preexisting: preexisting})
	case ActionIncrement:
		fromEra := w.era.during(op.Id)
		for i := range w.ops {
			if containsOpId(op.Pred, w.ops[i].op.Id) {
				w.ops[i].increment(op.Action.Inc, op.Id, fromEra)
			}
		}
	case ActionMarkBegin, ActionMarkEnd:
		if !w.era.before(op.Id) && !w.wasChangedDuringOp(op) {
			w.ops = append(w.ops, pOp{op: op})
		}
	case ActionDelete:
		// deletes act through succ of their preds
	}
}

func (w *diffWalker) process(group []*Op) *patch {
	w.ops = w.ops[:0]
	if len(group) == 0 {
		return nil
	}
	for _, op := range group {
		w.push(op)
	}
	var state *patch
	for i := range w.ops {
		o := w.ops[i]
		isNew := !w.era.before(o.op.Id)
		deleted := o.wasChangedDuring(w.era)
		state = mergePatch(state, patchFromFlags(o, o.op.Action.IsMark(), isNew, deleted, o.preexisting))
	}
	return state
}

// taggedValue renders the op's value for the observer. Counter values get
// the era adjustment: a new value reports only in-era increments, an
// exposed one everything up to the era end.
func taggedValue(op pOp, exposed bool) PatchValue {
	o := op.op
	if o.Action.Kind == ActionMake {
		return PatchValue{IsObject: true, ObjType: o.Action.ObjType, Id: o.Id}
	}
	v := o.Action.Value
	if v.Kind == KindCounter && op.ctr != nil {
		if exposed {
			v = Counter(v.I + op.ctr.before + op.ctr.during)
		} else {
			v = Counter(v.I + op.ctr.during)
		}
	}
	return PatchValue{Scalar: v, Id: o.Id}
}

// ObserveDiff walks every object and emits the patch stream between two
// clocks.
func (os *OpSet) ObserveDiff(begin, end *Clock, observer Observer) {
	if begin == nil {
		begin = NewClock()
	}
	w := &diffWalker{os: os, era: era{begin, end}}
	os.EachObject(func(obj ObjectId, typ ObjType) bool {
		start, stop := os.ObjRange(obj)
		if start == stop {
			return true
		}
		w.loadIncIds(start, stop)
		// the op-set stores succ; the walker wants pred, so invert once
		// per object
		ops := make([]*Op, 0, stop-start)
		predOf := make(map[OpId][]OpId)
		for pos := start; pos < stop; pos++ {
			op := os.ReadOp(pos)
			op.Obj = obj
			ops = append(ops, op)
			for _, s := range op.Succ {
				predOf[s] = insertOpId(predOf[s], op.Id)
			}
		}
		var patches []*patch
		var group []*Op
		var groupKey Key
		flush := func() {
			if p := w.process(group); p != nil {
				patches = append(patches, p)
			}
			group = group[:0]
		}
		for _, op := range ops {
			op.Pred = predOf[op.Id]
			k := op.ElemIdOrKey()
			if len(group) > 0 && k != groupKey {
				flush()
			}
			groupKey = k
			group = append(group, op)
		}
		flush()
		switch {
		case typ == TypeText:
			os.observeTextDiff(obj, patches, observer)
		case typ.IsSequence():
			os.observeListDiff(obj, patches, observer)
		default:
			os.observeMapDiff(obj, patches, observer)
		}
		return true
	})
}

func (os *OpSet) observeListDiff(obj ObjectId, patches []*patch, observer Observer) {
	var marks markStateMachine
	index := 0
	for _, p := range patches {
		switch p.state {
		case stateMark:
			if mk := marks.markOrUnmark(p.op.op, index); mk != nil {
				if mk.IsNull() {
					observer.Unmark(obj, mk.Name, mk.Start, mk.End)
				} else {
					observer.Mark(obj, mk.Name, mk.Value, mk.Start, mk.End)
				}
			}
		case stateNew:
			observer.Insert(obj, index, taggedValue(p.op, false), p.conflict())
			index++
		case stateUpdate:
			observer.Put(obj, IndexProp(index), taggedValue(p.op, false), p.conflict())
			index++
		case stateOld:
			if p.expose() {
				observer.Expose(obj, IndexProp(index), taggedValue(p.op, true), p.conflict())
			} else if p.conflict() {
				observer.FlagConflict(obj, IndexProp(index))
			}
			if n, ok := p.eraIncrement(); ok {
				observer.Increment(obj, IndexProp(index), n, p.op.op.Id)
			}
			index++
		case stateDelete:
			observer.DeleteSeq(obj, index, 1)
		}
	}
}

func (os *OpSet) observeTextDiff(obj ObjectId, patches []*patch, observer Observer) {
	var marks markStateMachine
	index := 0
	spliceAt := -1
	var splice []byte
	flushSplice := func() {
		if spliceAt >= 0 && len(splice) > 0 {
			observer.SpliceText(obj, spliceAt, string(splice))
		}
		spliceAt = -1
		splice = splice[:0]
	}
	for _, p := range patches {
		if p.state != stateNew {
			flushSplice()
		}
		switch p.state {
		case stateMark:
			if mk := marks.markOrUnmark(p.op.op, index); mk != nil {
				if mk.IsNull() {
					observer.Unmark(obj, mk.Name, mk.Start, mk.End)
				} else {
					observer.Mark(obj, mk.Name, mk.Value, mk.Start, mk.End)
				}
			}
		case stateNew:
			if spliceAt < 0 {
				spliceAt = index
			}
			splice = append(splice, opText(p.op.op)...)
			index += opWidth(p.op.op, EncodeText)
		case stateUpdate:
			observer.Put(obj, IndexProp(index), taggedValue(p.op, false), p.conflict())
			index += opWidth(p.op.op, EncodeText)
		case stateOld:
			if p.expose() {
				observer.Expose(obj, IndexProp(index), taggedValue(p.op, true), p.conflict())
			} else if p.conflict() {
				observer.FlagConflict(obj, IndexProp(index))
			}
			if n, ok := p.eraIncrement(); ok {
				observer.Increment(obj, IndexProp(index), n, p.op.op.Id)
			}
			index += opWidth(p.op.op, EncodeText)
		case stateDelete:
			observer.DeleteSeq(obj, index, 1)
		}
	}
	flushSplice()
}

// opText is the textual payload an op contributes to a Text object.
// Non-string values render as the object replacement character.
func opText(op *Op) string {
	if op.Action.Kind == ActionPut && op.Action.Value.Kind == KindStr {
		return op.Action.Value.S
	}
	return "￼"
}

func (os *OpSet) observeMapDiff(obj ObjectId, patches []*patch, observer Observer) {
	for _, p := range patches {
		if p.op.op.Key.IsSeq() {
			continue
		}
		prop := KeyProp(p.op.op.Key.Prop)
		switch p.state {
		case stateNew, stateUpdate:
			observer.Put(obj, prop, taggedValue(p.op, false), p.conflict())
		case stateOld:
			if p.expose() {
				observer.Expose(obj, prop, taggedValue(p.op, true), p.conflict())
			} else if p.conflict() {
				observer.FlagConflict(obj, prop)
			}
			if n, ok := p.eraIncrement(); ok {
				observer.Increment(obj, prop, n, p.op.op.Id)
			}
		case stateDelete:
			observer.DeleteMap(obj, prop.Key)
		case stateMark:
		}
	}
}

// Diff streams the changes between two sets of heads to the observer. A
// nil begin means the document's birth; a nil end means the current state.
func (d *Document) Diff(begin, end []ChangeHash, observer Observer) error {
	bc := NewClock()
	if begin != nil {
		var err error
		if bc, err = d.ClockAt(begin); err != nil {
			return err
		}
	}
	var ec *Clock
	if end != nil {
		var err error
		if ec, err = d.ClockAt(end); err != nil {
			return err
		}
	}
	d.ops.ObserveDiff(bc, ec, observer)
	return nil
}

// ObserveCurrentState replays the whole document as a patch stream from
// scratch.
func (d *Document) ObserveCurrentState(observer Observer) {
	d.ops.ObserveDiff(NewClock(), nil, observer)
}
