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

// ListEncoding selects how sequence indexes are counted.
type ListEncoding uint8

const (
	EncodeList ListEncoding = iota // one index per element
	EncodeText                     // grapheme cluster widths
)

// Visible implements the visibility rule: an op is visible under clock iff
// its id is covered, it is a value-bearing op, and no covered successor
// shadows it — where a counter tolerates Increment successors.
func (os *OpSet) Visible(op *Op, clock *Clock) bool {
	if !clock.Covers(op.Id) {
		return false
	}
	switch op.Action.Kind {
	case ActionDelete, ActionIncrement, ActionMarkBegin, ActionMarkEnd:
		return false
	}
	for _, s := range op.Succ {
		if !clock.Covers(s) {
			continue
		}
		if op.Action.IsCounter() && os.IsIncrement(op.Obj, s) {
			continue
		}
		return false
	}
	return true
}

// CounterValue folds covered increments into a visible counter op. The
// increments are found through the counter's succ list (pred/succ
// duality).
func (os *OpSet) CounterValue(op *Op, clock *Clock) int64 {
	sum := op.Action.Value.I
	for _, s := range op.Succ {
		if !clock.Covers(s) {
			continue
		}
		pos, ok := os.OpIdSearch(op.Obj, s)
		if !ok {
			continue
		}
		ac, _ := os.action.Nth(pos)
		if ac.Val != actIncrement {
			continue
		}
		sum += os.ReadOp(pos).Action.Inc
	}
	return sum
}

// PosOp pairs an op with its column position.
type PosOp struct {
	Pos int
	Op  *Op
}

// QueryResult carries the ops a search selected plus the position range it
// traversed, so sibling visibility lookups can be recomputed cheaply.
type QueryResult struct {
	Ops        []PosOp
	Start, End int
}

// Prop returns all visible ops at a map key, in id order.
func (os *OpSet) Prop(obj ObjectId, prop string, clock *Clock) QueryResult {
	start, end := os.ObjRange(obj)
	res := QueryResult{Start: start, End: end}
	for pos := start; pos < end; pos++ {
		ks, _ := os.keyStr.Nth(pos)
		if ks.Null || ks.Val != prop {
			continue
		}
		op := os.ReadOp(pos)
		if os.Visible(op, clock) {
			res.Ops = append(res.Ops, PosOp{pos, op})
		}
	}
	return res
}

// Keys returns the visible map keys in sorted order.
func (os *OpSet) Keys(obj ObjectId, clock *Clock) []string {
	start, end := os.ObjRange(obj)
	var keys []string
	for pos := start; pos < end; pos++ {
		ks, _ := os.keyStr.Nth(pos)
		if ks.Null {
			continue
		}
		if len(keys) > 0 && keys[len(keys)-1] == ks.Val {
			continue
		}
		op := os.ReadOp(pos)
		if os.Visible(op, clock) {
			keys = append(keys, ks.Val)
		}
	}
	return keys
}

// seqElem is one element group of a sequence: the insert op plus every op
// keyed on it, in column order.
type seqElem struct {
	elem   ElementId
	ops    []PosOp // ops[0] is the insert op
	winner *PosOp  // highest-id visible op, nil if the element is deleted
	width  int     // index width under the walk's encoding
}

// eachElem walks a sequence object's element groups in tree order. Mark
// ops are inserts, so each opens a group of its own that never has a winner.
func (os *OpSet) eachElem(obj ObjectId, clock *Clock, enc ListEncoding, f func(e *seqElem) bool) {
	start, end := os.ObjRange(obj)
	var cur *seqElem
	flush := func() bool {
		if cur == nil {
			return true
		}
		for i := range cur.ops {
			po := cur.ops[i]
			if os.Visible(po.Op, clock) {
				cur.winner = &cur.ops[i]
			}
		}
		if cur.winner != nil {
			cur.width = opWidth(cur.winner.Op, enc)
		}
		ok := f(cur)
		cur = nil
		return ok
	}
	for pos := start; pos < end; pos++ {
		op := os.ReadOp(pos)
		if op.Insert {
			if !flush() {
				return
			}
			cur = &seqElem{elem: ElemId(op.Id)}
		}
		if cur == nil {
			// ops before any insert get a group keyed on head
			cur = &seqElem{elem: Head}
		}
		cur.ops = append(cur.ops, PosOp{pos, op})
	}
	flush()
}

func opWidth(op *Op, enc ListEncoding) int {
	if enc == EncodeText && op.Action.Kind == ActionPut && op.Action.Value.Kind == KindStr {
		return graphemeCount(op.Action.Value.S)
	}
	return 1
}

// Nth locates the n-th visible element under clock. For Text, n indexes
// grapheme widths. The error is ErrInvalidIndex when out of bounds.
func (os *OpSet) Nth(obj ObjectId, n int, enc ListEncoding, clock *Clock) (PosOp, error) {
	var found *PosOp
	idx := 0
	os.eachElem(obj, clock, enc, func(e *seqElem) bool {
		if e.winner == nil {
			return true
		}
		if n < idx+e.width {
			found = e.winner
			return false
		}
		idx += e.width
		return true
	})
	if found == nil {
		return PosOp{}, ErrInvalidIndex
	}
	return *found, nil
}

// SeqLen counts visible elements (or text width).
func (os *OpSet) SeqLen(obj ObjectId, enc ListEncoding, clock *Clock) int {
	n := 0
	os.eachElem(obj, clock, enc, func(e *seqElem) bool {
		if e.winner != nil {
			n += e.width
		}
		return true
	})
	return n
}

// MapLen counts visible keys.
func (os *OpSet) MapLen(obj ObjectId, clock *Clock) int {
	return len(os.Keys(obj, clock))
}

// InsertNth computes where a fresh local insert before the n-th visible
// element lands: the column position for the new op and the element id it
// is keyed on. Inserting at the end (n == Len) is allowed. The inserting
// op's id is always the document maximum, so it sits directly behind its
// predecessor's op group.
func (os *OpSet) InsertNth(obj ObjectId, n int, enc ListEncoding, clock *Clock) (int, Key, error) {
	start, _ := os.ObjRange(obj)
	if n == 0 {
		return start, SeqKey(Head), nil
	}
	idx := 0
	pos := -1
	var key Key
	os.eachElem(obj, clock, enc, func(e *seqElem) bool {
		if e.winner == nil {
			return true
		}
		idx += e.width
		if idx >= n {
			key = SeqKey(e.elem)
			pos = e.ops[len(e.ops)-1].Pos + 1
			return false
		}
		return true
	})
	if pos < 0 {
		return 0, Key{}, ErrInvalidIndex
	}
	return pos, key, nil
}

// OpIdSearch locates the current position of a specific op inside its
// object, probing linearly over the object's range.
func (os *OpSet) OpIdSearch(obj ObjectId, id OpId) (int, bool) {
	start, end := os.ObjRange(obj)
	for pos := start; pos < end; pos++ {
		if os.IdAt(pos) == id {
			return pos, true
		}
	}
	return 0, false
}

// ElemIdPos converts an element id to its visible list index under clock.
// The second result is false when the element is deleted or unknown; for a
// deleted element the index points at the next surviving element, for an
// unknown one it is 0.
func (os *OpSet) ElemIdPos(obj ObjectId, elem ElementId, enc ListEncoding, clock *Clock) (int, bool) {
	idx := 0
	found := false
	alive := false
	os.eachElem(obj, clock, enc, func(e *seqElem) bool {
		if e.elem == elem {
			found = true
			alive = e.winner != nil
			return false
		}
		if e.winner != nil {
			idx += e.width
		}
		return true
	})
	if !found {
		return 0, false
	}
	return idx, alive
}

// ListVals materialises the winner values of a sequence in order.
func (os *OpSet) ListVals(obj ObjectId, clock *Clock) []PosOp {
	var out []PosOp
	os.eachElem(obj, clock, EncodeList, func(e *seqElem) bool {
		if e.winner != nil {
			out = append(out, *e.winner)
		}
		return true
	})
	return out
}

// seekResult describes where an incoming op lands.
type seekResult struct {
	pos  int   // column position for the new op
	pred []int // positions of the ops it overwrites
}

// findOpPos computes the canonical column position for an op arriving from
// a change, plus the positions of its pred ops. Map ops keep (key, id)
// order; sequence inserts follow the tree order with the id-descending
// sibling tiebreak; other sequence ops attach to their element group in id
// order.
func (os *OpSet) findOpPos(op *Op) (seekResult, error) {
	start, end := os.ObjRange(op.Obj)
	if !op.Key.IsSeq() {
		return os.findMapOpPos(op, start, end)
	}
	if op.Insert {
		pos, err := os.findSeqInsertPos(op, start, end)
		return seekResult{pos: pos}, err
	}
	return os.findSeqUpdatePos(op, start, end)
}

func (os *OpSet) findMapOpPos(op *Op, start, end int) (seekResult, error) {
	res := seekResult{pos: start}
	placed := false
	matched := 0
	for pos := start; pos < end; pos++ {
		ks, _ := os.keyStr.Nth(pos)
		if ks.Null {
			return res, InvalidChangeError{"map op against sequence object"}
		}
		if ks.Val < op.Key.Prop {
			res.pos = pos + 1
			continue
		}
		if ks.Val > op.Key.Prop {
			if !placed {
				res.pos = pos
				placed = true
			}
			break
		}
		id := os.IdAt(pos)
		if id == op.Id {
			return res, InvalidChangeError{"duplicate op id " + id.String()}
		}
		if id.Cmp(op.Id) < 0 {
			if !placed {
				res.pos = pos + 1
			}
		} else if !placed {
			res.pos = pos
			placed = true
		}
		if containsOpId(op.Pred, id) {
			res.pred = append(res.pred, pos)
			matched++
		}
	}
	if matched != len(op.Pred) {
		return res, InvalidChangeError{"pred refers to unknown op"}
	}
	return res, nil
}

// findSeqInsertPos walks forward from the predecessor element, skipping
// subtrees of concurrent siblings with larger ids.
func (os *OpSet) findSeqInsertPos(op *Op, start, end int) (int, error) {
	parent := op.Key.Elem
	pos := start
	if !parent.IsHead() {
		ppos, ok := os.OpIdSearch(op.Obj, parent.id)
		if !ok {
			return 0, InvalidChangeError{"insert references unknown element " + parent.String()}
		}
		ins, _ := os.insert.Nth(ppos)
		if !ins {
			return 0, InvalidChangeError{"insert key is not an insertion op"}
		}
		// step past the parent's own op group
		pos = ppos + 1
		for pos < end {
			if in, _ := os.insert.Nth(pos); in {
				break
			}
			pos++
		}
	}
	// among following elements, skip whole subtrees of siblings whose id
	// beats ours; stop at the first smaller sibling or when leaving the
	// parent's region
	skipped := map[OpId]bool{}
	for pos < end {
		if in, _ := os.insert.Nth(pos); !in {
			pos++ // update op of a preceding element group
			continue
		}
		cur := os.ReadOp(pos)
		if cur.Id == op.Id {
			return 0, InvalidChangeError{"duplicate op id " + cur.Id.String()}
		}
		if cur.Key.Elem == parent {
			if cur.Id.Cmp(op.Id) > 0 {
				skipped[cur.Id] = true // bigger sibling: skip its subtree
				pos++
				continue
			}
			return pos, nil // smaller sibling: we come first
		}
		if !cur.Key.Elem.IsHead() && skipped[cur.Key.Elem.id] {
			skipped[cur.Id] = true // descendant of a skipped sibling
			pos++
			continue
		}
		// left the parent's region
		return pos, nil
	}
	return end, nil
}

func (os *OpSet) findSeqUpdatePos(op *Op, start, end int) (seekResult, error) {
	elem := op.Key.Elem
	if elem.IsHead() {
		return seekResult{}, InvalidChangeError{"non-insert op keyed at head"}
	}
	ppos, ok := os.OpIdSearch(op.Obj, elem.id)
	if !ok {
		return seekResult{}, InvalidChangeError{"op references unknown element " + elem.String()}
	}
	if in, _ := os.insert.Nth(ppos); !in {
		return seekResult{}, InvalidChangeError{"element key is not an insertion op"}
	}
	res := seekResult{pos: ppos + 1}
	matched := 0
	if containsOpId(op.Pred, elem.id) {
		res.pred = append(res.pred, ppos)
		matched++
	}
	for pos := ppos + 1; pos < end; pos++ {
		if in, _ := os.insert.Nth(pos); in {
			break
		}
		cur := os.ReadOp(pos)
		if cur.Key.Elem != elem {
			break
		}
		if cur.Id == op.Id {
			return res, InvalidChangeError{"duplicate op id " + cur.Id.String()}
		}
		if cur.Id.Cmp(op.Id) < 0 {
			res.pos = pos + 1
		}
		if containsOpId(op.Pred, cur.Id) {
			res.pred = append(res.pred, pos)
			matched++
		}
	}
	if matched != len(op.Pred) {
		return res, InvalidChangeError{"pred refers to unknown op"}
	}
	return res, nil
}

func containsOpId(ids []OpId, id OpId) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
