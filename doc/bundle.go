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
	"sort"

	"github.com/launix-de/deltadoc/columnar"
)

// A bundle packs many changes into one column payload: deps table, actor
// table, change columns, op columns. Ops carry pred (unlike the document
// chunk, a bundle need not be causally complete, so succ inversion would
// be lossy).

// BundleBuilder consumes ops in op-set order and routes each to the change
// that produced it, identified by (actor, counter).
type BundleBuilder struct {
	changes []*Change
	rowOf   map[ChangeHash]int
	byActor map[ActorId][]int
	routed  map[int][]bundleOp
}

type bundleOp struct {
	id OpId
	op ChangeOp
}

func NewBundleBuilder(changes []*Change) *BundleBuilder {
	b := &BundleBuilder{
		changes: canonicalChanges(changes),
		rowOf:   make(map[ChangeHash]int),
		byActor: make(map[ActorId][]int),
		routed:  make(map[int][]bundleOp),
	}
	for i, c := range b.changes {
		b.rowOf[c.Hash()] = i
		b.byActor[c.Actor] = append(b.byActor[c.Actor], i)
	}
	for _, idxs := range b.byActor {
		sort.Slice(idxs, func(x, y int) bool {
			return b.changes[idxs[x]].StartOp < b.changes[idxs[y]].StartOp
		})
	}
	return b
}

// AddOp routes one op. Ops outside every bundled change are skipped.
func (b *BundleBuilder) AddOp(id OpId, op ChangeOp) {
	for _, ri := range b.byActor[id.Actor] {
		c := b.changes[ri]
		if id.Counter >= c.StartOp && id.Counter <= c.MaxOp() {
			b.routed[ri] = append(b.routed[ri], bundleOp{id, op})
			return
		}
	}
}

// Finish returns the bundle as a complete chunk. The op columns hold the
// routed ops sorted by op id (counter, then actor), whatever order they
// were fed in.
func (b *BundleBuilder) Finish() []byte {
	// actor table over everything referenced
	actorSet := make(map[ActorId]struct{})
	for _, c := range b.changes {
		actorSet[c.Actor] = struct{}{}
		for i := range c.Ops {
			op := &c.Ops[i]
			if !op.Obj.IsRoot() {
				actorSet[op.Obj.id.Actor] = struct{}{}
			}
			if op.Key.IsSeq() && !op.Key.Elem.IsHead() {
				actorSet[op.Key.Elem.id.Actor] = struct{}{}
			}
			if op.Action.Kind == ActionPut && op.Action.Value.Kind == KindCursor {
				actorSet[op.Action.Value.Opid.Actor] = struct{}{}
			}
			for _, p := range op.Pred {
				actorSet[p.Actor] = struct{}{}
			}
		}
	}
	var actors []ActorId
	for a := range actorSet {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].Cmp(actors[j]) < 0 })
	remap := make(map[ActorId]uint64, len(actors))
	for i, a := range actors {
		remap[a] = uint64(i)
	}

	// external deps table
	var external []ChangeHash
	extIdx := make(map[ChangeHash]int)
	for _, c := range b.changes {
		for _, dep := range c.Deps {
			if _, ok := b.rowOf[dep]; ok {
				continue
			}
			if _, ok := extIdx[dep]; !ok {
				extIdx[dep] = len(external)
				external = append(external, dep)
			}
		}
	}

	cc := newChangeColumns()
	for _, c := range b.changes {
		var deps []int
		for _, dep := range c.Deps {
			if ri, ok := b.rowOf[dep]; ok {
				deps = append(deps, ri)
			} else {
				deps = append(deps, len(b.changes)+extIdx[dep])
			}
		}
		cc.push(changeRow{
			actorIdx: int(remap[c.Actor]),
			seq:      c.Seq,
			startOp:  c.StartOp,
			maxOp:    c.MaxOp(),
			time:     c.Time,
			message:  c.Message,
			deps:     deps,
			extra:    c.Extra,
		})
	}

	// ops across all changes in canonical id order
	oc := newOpColumns(true)
	var all []bundleOp
	for ri := range b.changes {
		all = append(all, b.routed[ri]...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].id.Counter != all[j].id.Counter {
			return all[i].id.Counter < all[j].id.Counter
		}
		return all[i].id.Actor.Cmp(all[j].id.Actor) < 0
	})
	for _, bo := range all {
		oc.push(bo.id, bo.op.Obj, bo.op.Key, bo.op.Insert, bo.op.Action, bo.op.Pred,
			func(a ActorId) uint64 { return remap[a] })
	}

	var body bytes.Buffer
	columnar.PutUleb(&body, uint64(len(external)))
	for _, h := range external {
		body.Write(h[:])
	}
	columnar.PutUleb(&body, uint64(len(actors)))
	for _, a := range actors {
		columnar.PutUleb(&body, 16)
		body.Write(a[:])
	}
	writeColumnGroup(&body, cc.save())
	writeColumnGroup(&body, oc.save())

	var out bytes.Buffer
	WriteChunk(&out, ChunkBundle, body.Bytes())
	return out.Bytes()
}

// SaveBundle packs every change not reachable from since into one bundle
// chunk, feeding ops in op-set order.
func (d *Document) SaveBundle(since []ChangeHash) []byte {
	changes := d.GetChanges(since)
	b := NewBundleBuilder(changes)
	opOf := make(map[OpId]ChangeOp)
	for _, c := range changes {
		for i := range c.Ops {
			opOf[c.OpId(i)] = c.Ops[i]
		}
	}
	for pos := 0; pos < d.ops.Len(); pos++ {
		id := d.ops.IdAt(pos)
		if op, ok := opOf[id]; ok {
			b.AddOp(id, op)
		}
	}
	return b.Finish()
}

// BundleIter yields decoded changes one at a time. The unverified form
// reports inconsistencies as errors from Next; after a full clean pass,
// Verified returns an iterator that panics instead, since verification has
// already happened.
type BundleIter struct {
	changes  []*Change
	errs     []error
	pos      int
	verified bool
}

func (it *BundleIter) Next() (*Change, error, bool) {
	if it.pos >= len(it.changes) {
		return nil, nil, false
	}
	c := it.changes[it.pos]
	err := it.errs[it.pos]
	it.pos++
	if err != nil && it.verified {
		panic("verified bundle iterator hit inconsistency: " + err.Error())
	}
	return c, err, true
}

// Verified re-scans the whole bundle once; if anything is inconsistent the
// error surfaces here, otherwise the returned iterator trusts the data.
func (it *BundleIter) Verified() (*BundleIter, error) {
	for _, err := range it.errs {
		if err != nil {
			return nil, err
		}
	}
	return &BundleIter{changes: it.changes, errs: it.errs, verified: true}, nil
}

// DecodeBundleBody parses a bundle chunk body lazily: rows decode up
// front, per-change consistency checks surface through the iterator.
func DecodeBundleBody(body []byte) (*BundleIter, error) {
	pos := 0
	var extCount uint64
	var ok bool
	if extCount, pos, ok = columnar.Uleb(body, pos); !ok || pos+int(extCount)*32 > len(body) {
		return nil, ParseError{ParseTruncated, "deps table"}
	}
	external := make([]ChangeHash, extCount)
	for i := range external {
		copy(external[i][:], body[pos:pos+32])
		pos += 32
	}
	var actorCount uint64
	if actorCount, pos, ok = columnar.Uleb(body, pos); !ok {
		return nil, ParseError{ParseTruncated, "actor table"}
	}
	actors := make([]ActorId, 0, actorCount)
	var err error
	for i := uint64(0); i < actorCount; i++ {
		var a ActorId
		if a, pos, err = readActorBytes(body, pos); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	chCols, pos, err := readColumnMeta(body, pos)
	if err != nil {
		return nil, err
	}
	opCols, pos, err := readColumnMeta(body, pos)
	if err != nil {
		return nil, err
	}
	if pos != len(body) {
		return nil, ParseError{ParseTruncated, "trailing bytes in bundle"}
	}
	cc := newChangeColumns()
	if err := cc.load(chCols); err != nil {
		return nil, err
	}
	rows, err := cc.readRows()
	if err != nil {
		return nil, err
	}
	oc := newOpColumns(true)
	if err := oc.load(opCols); err != nil {
		return nil, err
	}
	actorAt := func(i int) (ActorId, bool) {
		if i < 0 || i >= len(actors) {
			return ActorId{}, false
		}
		return actors[i], true
	}
	ops, err := oc.readRows(oc.action.Len(), nil, actorAt)
	if err != nil {
		return nil, err
	}

	chOps := make(map[int][]rowOp)
	route := func(id OpId) int {
		for ri, r := range rows {
			if r.actorIdx < len(actors) && actors[r.actorIdx] == id.Actor &&
				id.Counter >= r.startOp && id.Counter <= r.maxOp {
				return ri
			}
		}
		return -1
	}
	var looseOps []OpId
	for _, r := range ops {
		ri := route(r.id)
		if ri < 0 {
			looseOps = append(looseOps, r.id)
			continue
		}
		chOps[ri] = append(chOps[ri], r)
	}

	it := &BundleIter{}
	for ri, r := range rows {
		if r.actorIdx >= len(actors) {
			it.changes = append(it.changes, nil)
			it.errs = append(it.errs, ParseError{ParseInvalidChangeColumn, "actor index out of range"})
			continue
		}
		c := &Change{
			Actor:   actors[r.actorIdx],
			Seq:     r.seq,
			StartOp: r.startOp,
			Time:    r.time,
			Message: r.message,
			Extra:   r.extra,
		}
		list := chOps[ri]
		sort.Slice(list, func(a, b int) bool { return list[a].id.Counter < list[b].id.Counter })
		var rowErr error
		if uint64(len(list)) != r.maxOp-r.startOp+1 && !(r.maxOp < r.startOp && len(list) == 0) {
			rowErr = ParseError{ParseInvalidOpColumn, "op count disagrees with change metadata"}
		}
		for k, r2 := range list {
			if rowErr != nil {
				break
			}
			if r2.id.Counter != r.startOp+uint64(k) {
				rowErr = ParseError{ParseInvalidOpColumn, "op counter gap inside change"}
				break
			}
			c.Ops = append(c.Ops, ChangeOp{r2.obj, r2.key, r2.insert, r2.action, r2.refs})
		}
		it.changes = append(it.changes, c)
		it.errs = append(it.errs, rowErr)
	}
	// dep indexes resolve against bundled rows first, then the table
	for ri, r := range rows {
		if it.errs[ri] != nil {
			continue
		}
		for _, di := range r.deps {
			switch {
			case di >= 0 && di < ri:
				it.changes[ri].Deps = append(it.changes[ri].Deps, it.changes[di].Hash())
			case di >= len(rows) && di-len(rows) < len(external):
				it.changes[ri].Deps = append(it.changes[ri].Deps, external[di-len(rows)])
			default:
				it.errs[ri] = ParseError{ParseInvalidChangeColumn, "dep index out of range"}
			}
		}
		if it.errs[ri] == nil {
			it.changes[ri].SortDeps()
		}
	}
	if len(looseOps) > 0 {
		it.changes = append(it.changes, nil)
		it.errs = append(it.errs, ParseError{ParseInvalidOpColumn, "op " + looseOps[0].String() + " belongs to no change"})
	}
	return it, nil
}
