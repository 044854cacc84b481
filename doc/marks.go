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

// Mark is a closed rich-text span.
type Mark struct {
	Name  string
	Value ScalarValue
	Start int
	End   int
}

// IsNull marks carry a null value; they clear the attribute over the span.
func (m Mark) IsNull() bool { return m.Value.Kind == KindNull }

// markStateMachine pairs MarkBegin and MarkEnd ops as the walker meets
// them in positional order. A MarkEnd's op counter is its begin's plus
// one, which is how the pair is recognised.
type markStateMachine struct {
	open []markEntry
}

type markEntry struct {
	id    OpId
	name  string
	value ScalarValue
	start int
}

// markOrUnmark feeds one mark op at the walker's current index. A closed
// non-empty span comes back as a Mark; open begins return nil.
func (m *markStateMachine) markOrUnmark(op *Op, index int) *Mark {
	switch op.Action.Kind {
	case ActionMarkBegin:
		m.open = append(m.open, markEntry{op.Id, op.Action.Mark, op.Action.Value, index})
	case ActionMarkEnd:
		beginId := OpId{op.Id.Counter - 1, op.Id.Actor}
		for i := len(m.open) - 1; i >= 0; i-- {
			if m.open[i].id == beginId {
				e := m.open[i]
				m.open = append(m.open[:i], m.open[i+1:]...)
				if index <= e.start {
					return nil // empty span
				}
				return &Mark{e.name, e.value, e.start, index}
			}
		}
	}
	return nil
}
