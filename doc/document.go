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
)

// Document is one replica of a shared document: the op-set plus its causal
// history. A document is single-writer; callers serialise access.
type Document struct {
	ops          *OpSet
	actor        ActorId
	history      []*Change
	historyIndex map[ChangeHash]int
	heads        map[ChangeHash]struct{}
	queue        []*Change
	seqClock     map[ActorId]uint64
	maxOp        uint64
	saveIndex    int // history entries already covered by the last save
}

func New() *Document {
	return &Document{
		ops:          NewOpSet(),
		actor:        NewActorId(),
		historyIndex: make(map[ChangeHash]int),
		heads:        make(map[ChangeHash]struct{}),
		seqClock:     make(map[ActorId]uint64),
	}
}

// NewWithActor pins the local actor id (forks keep their own).
func NewWithActor(actor ActorId) *Document {
	d := New()
	d.actor = actor
	return d
}

func (d *Document) Actor() ActorId         { return d.actor }
func (d *Document) SetActor(a ActorId)     { d.actor = a }
func (d *Document) OpSet() *OpSet          { return d.ops }
func (d *Document) MaxOp() uint64          { return d.maxOp }
func (d *Document) NumChanges() int        { return len(d.history) }
func (d *Document) QueueLen() int          { return len(d.queue) }

// GetHeads returns the current heads in sorted order.
func (d *Document) GetHeads() []ChangeHash {
	out := make([]ChangeHash, 0, len(d.heads))
	for h := range d.heads {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (d *Document) GetChangeByHash(h ChangeHash) *Change {
	if i, ok := d.historyIndex[h]; ok {
		return d.history[i]
	}
	return nil
}

// GetChanges returns every applied change not reachable from since, in
// application order.
func (d *Document) GetChanges(since []ChangeHash) []*Change {
	reach := make(map[ChangeHash]struct{})
	var stack []ChangeHash
	stack = append(stack, since...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reach[h]; ok {
			continue
		}
		reach[h] = struct{}{}
		if c := d.GetChangeByHash(h); c != nil {
			stack = append(stack, c.Deps...)
		}
	}
	var out []*Change
	for _, c := range d.history {
		if _, ok := reach[c.Hash()]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// GetLastLocalChange returns the most recent change authored by this
// document's actor.
func (d *Document) GetLastLocalChange() *Change {
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].Actor == d.actor {
			return d.history[i]
		}
	}
	return nil
}

// GetMissingDeps lists dependency hashes the document has not seen:
// everything queued changes wait for, plus any of the given heads that are
// unknown.
func (d *Document) GetMissingDeps(heads []ChangeHash) []ChangeHash {
	missing := make(map[ChangeHash]struct{})
	inQueue := make(map[ChangeHash]struct{})
	for _, c := range d.queue {
		inQueue[c.Hash()] = struct{}{}
	}
	for _, c := range d.queue {
		for _, dep := range c.Deps {
			if _, ok := d.historyIndex[dep]; ok {
				continue
			}
			if _, ok := inQueue[dep]; ok {
				continue
			}
			missing[dep] = struct{}{}
		}
	}
	for _, h := range heads {
		if _, ok := d.historyIndex[h]; !ok {
			missing[h] = struct{}{}
		}
	}
	out := make([]ChangeHash, 0, len(missing))
	for h := range missing {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// ClockAt derives the op-counter clock for a set of heads. Nil means the
// current full clock.
func (d *Document) ClockAt(heads []ChangeHash) (*Clock, error) {
	if heads == nil {
		return nil, nil
	}
	clock := NewClock()
	seen := make(map[ChangeHash]struct{})
	stack := append([]ChangeHash(nil), heads...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		c := d.GetChangeByHash(h)
		if c == nil {
			return nil, ErrInvalidChangeHash
		}
		clock.Include(c.Actor, c.MaxOp())
		stack = append(stack, c.Deps...)
	}
	return clock, nil
}

// snapshot captures everything ApplyChanges mutates, so a failed apply can
// leave the document exactly as before. Columns are persistent, so this is
// a handful of pointer copies.
type docSnapshot struct {
	ops       *OpSet
	nhistory  int
	heads     map[ChangeHash]struct{}
	seqClock  map[ActorId]uint64
	maxOp     uint64
	queue     []*Change
}

func (d *Document) snapshot() docSnapshot {
	heads := make(map[ChangeHash]struct{}, len(d.heads))
	for h := range d.heads {
		heads[h] = struct{}{}
	}
	clock := make(map[ActorId]uint64, len(d.seqClock))
	for a, s := range d.seqClock {
		clock[a] = s
	}
	return docSnapshot{d.ops.Clone(), len(d.history), heads, clock, d.maxOp, append([]*Change(nil), d.queue...)}
}

func (d *Document) restore(s docSnapshot) {
	d.ops = s.ops
	for _, c := range d.history[s.nhistory:] {
		delete(d.historyIndex, c.Hash())
	}
	d.history = d.history[:s.nhistory]
	d.heads = s.heads
	d.seqClock = s.seqClock
	d.maxOp = s.maxOp
	d.queue = s.queue
}

// ApplyChanges runs the causal queue: known changes are dropped, ready
// changes applied, the rest parked until their dependencies land. The call
// is atomic: on error the document is unchanged.
func (d *Document) ApplyChanges(changes ...*Change) error {
	snap := d.snapshot()
	if err := d.applyChanges(changes); err != nil {
		d.restore(snap)
		return err
	}
	return nil
}

func (d *Document) applyChanges(changes []*Change) error {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, ok := d.historyIndex[c.Hash()]; ok {
			continue // idempotent
		}
		if d.ready(c) {
			if err := d.applyReady(c); err != nil {
				return err
			}
		} else {
			d.queue = append(d.queue, c)
		}
	}
	return d.drainQueue()
}

func (d *Document) ready(c *Change) bool {
	for _, dep := range c.Deps {
		if _, ok := d.historyIndex[dep]; !ok {
			return false
		}
	}
	return true
}

// drainQueue applies newly ready changes until fixpoint, swap-removing as
// it goes.
func (d *Document) drainQueue() error {
	progress := true
	for progress {
		progress = false
		for i := 0; i < len(d.queue); {
			c := d.queue[i]
			if _, ok := d.historyIndex[c.Hash()]; ok {
				// arrived twice while queued
				d.queue[i] = d.queue[len(d.queue)-1]
				d.queue = d.queue[:len(d.queue)-1]
				continue
			}
			if !d.ready(c) {
				i++
				continue
			}
			if err := d.applyReady(c); err != nil {
				return err
			}
			d.queue[i] = d.queue[len(d.queue)-1]
			d.queue = d.queue[:len(d.queue)-1]
			progress = true
		}
	}
	return nil
}

// applyReady imports one causally ready change into the op-set.
func (d *Document) applyReady(c *Change) error {
	if have := d.seqClock[c.Actor]; c.Seq != have+1 {
		if c.Seq <= have {
			return InvalidChangeError{"duplicate sequence number"}
		}
		return InvalidChangeError{"sequence gap"}
	}
	for i := range c.Ops {
		cop := &c.Ops[i]
		op := &Op{
			Id:     c.OpId(i),
			Obj:    cop.Obj,
			Key:    cop.Key,
			Insert: cop.Insert,
			Action: cop.Action,
			Pred:   cop.Pred,
		}
		if !op.Obj.IsRoot() {
			if _, _, ok := d.ops.Object(op.Obj); !ok {
				return MissingObjectError{op.Obj}
			}
		}
		res, err := d.ops.findOpPos(op)
		if err != nil {
			return err
		}
		d.ops.InsertOp(res.pos, op)
		for _, ppos := range res.pred {
			at := ppos
			if at >= res.pos {
				at++ // pred slid one position by our own insert
			}
			d.ops.AddSucc(at, op.Id)
		}
	}
	h := c.Hash()
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
	return nil
}

// Fork clones the document under a fresh actor id. Column slabs are shared
// structurally.
func (d *Document) Fork() *Document {
	n := &Document{
		ops:          d.ops.Clone(),
		actor:        NewActorId(),
		history:      append([]*Change(nil), d.history...),
		historyIndex: make(map[ChangeHash]int, len(d.historyIndex)),
		heads:        make(map[ChangeHash]struct{}, len(d.heads)),
		queue:        append([]*Change(nil), d.queue...),
		seqClock:     make(map[ActorId]uint64, len(d.seqClock)),
		maxOp:        d.maxOp,
	}
	for h, i := range d.historyIndex {
		n.historyIndex[h] = i
	}
	for h := range d.heads {
		n.heads[h] = struct{}{}
	}
	for a, s := range d.seqClock {
		n.seqClock[a] = s
	}
	return n
}

// ForkAt clones the document as it was at the given heads.
func (d *Document) ForkAt(heads []ChangeHash) (*Document, error) {
	reach := make(map[ChangeHash]struct{})
	stack := append([]ChangeHash(nil), heads...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reach[h]; ok {
			continue
		}
		c := d.GetChangeByHash(h)
		if c == nil {
			return nil, ErrInvalidChangeHash
		}
		reach[h] = struct{}{}
		stack = append(stack, c.Deps...)
	}
	n := New()
	for _, c := range d.history {
		if _, ok := reach[c.Hash()]; ok {
			if err := n.ApplyChanges(c); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

// Merge applies every change other has that the receiver lacks.
func (d *Document) Merge(other *Document) error {
	return d.ApplyChanges(other.GetChanges(d.GetHeads())...)
}
