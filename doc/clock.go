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

// Clock is a version vector: per actor, the highest op counter covered.
// A nil *Clock means "everything applied so far".
type Clock struct {
	max map[ActorId]uint64
}

func NewClock() *Clock {
	return &Clock{max: make(map[ActorId]uint64)}
}

func (c *Clock) Clone() *Clock {
	n := NewClock()
	for a, v := range c.max {
		n.max[a] = v
	}
	return n
}

// Include raises the covered counter for actor to at least ctr.
func (c *Clock) Include(actor ActorId, ctr uint64) {
	if c.max[actor] < ctr {
		c.max[actor] = ctr
	}
}

// Covers reports whether the op id is inside the clock. A nil clock covers
// everything.
func (c *Clock) Covers(id OpId) bool {
	if c == nil {
		return true
	}
	return c.max[id.Actor] >= id.Counter
}

func (c *Clock) Get(actor ActorId) uint64 {
	if c == nil {
		return 0
	}
	return c.max[actor]
}

// Merge folds o into c.
func (c *Clock) Merge(o *Clock) {
	if o == nil {
		return
	}
	for a, v := range o.max {
		c.Include(a, v)
	}
}
