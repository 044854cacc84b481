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

import "fmt"

// Prop addresses a slot inside an object: a map key or a sequence index.
type Prop struct {
	Key     string
	Index   int
	IsIndex bool
}

func KeyProp(k string) Prop  { return Prop{Key: k} }
func IndexProp(i int) Prop   { return Prop{Index: i, IsIndex: true} }

func (p Prop) String() string {
	if p.IsIndex {
		return fmt.Sprint(p.Index)
	}
	return p.Key
}

// PatchValue is a value tagged with the op that won it: either a scalar or
// a freshly exposed object.
type PatchValue struct {
	IsObject bool
	ObjType  ObjType
	Scalar   ScalarValue
	Id       OpId
}

func (v PatchValue) String() string {
	if v.IsObject {
		return v.ObjType.String()
	}
	return v.Scalar.String()
}

// Observer receives the deterministic patch stream of a materialisation or
// diff: by object in causal order, by key inside an object, by id inside a
// key group.
type Observer interface {
	Put(obj ObjectId, prop Prop, v PatchValue, conflict bool)
	Insert(obj ObjectId, index int, v PatchValue, conflict bool)
	SpliceText(obj ObjectId, index int, text string)
	DeleteSeq(obj ObjectId, index, count int)
	DeleteMap(obj ObjectId, key string)
	Increment(obj ObjectId, prop Prop, n int64, by OpId)
	Expose(obj ObjectId, prop Prop, v PatchValue, conflict bool)
	FlagConflict(obj ObjectId, prop Prop)
	Mark(obj ObjectId, name string, value ScalarValue, start, end int)
	Unmark(obj ObjectId, name string, start, end int)
}

// PatchKind tags PatchLog entries.
type PatchKind uint8

const (
	PatchPut PatchKind = iota
	PatchInsert
	PatchSpliceText
	PatchDeleteSeq
	PatchDeleteMap
	PatchIncrement
	PatchExpose
	PatchFlagConflict
	PatchMark
	PatchUnmark
)

// PatchEvent is one recorded observer callback.
type PatchEvent struct {
	Kind     PatchKind
	Obj      ObjectId
	Prop     Prop
	Value    PatchValue
	Conflict bool
	Text     string
	Count    int
	Inc      int64
	By       OpId
	Name     string
	Start    int
	End      int
}

// PatchLog records the event stream; the front-ends replay it against
// their own value trees.
type PatchLog struct {
	Events []PatchEvent
}

func (l *PatchLog) Put(obj ObjectId, prop Prop, v PatchValue, conflict bool) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchPut, Obj: obj, Prop: prop, Value: v, Conflict: conflict})
}

func (l *PatchLog) Insert(obj ObjectId, index int, v PatchValue, conflict bool) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchInsert, Obj: obj, Prop: IndexProp(index), Value: v, Conflict: conflict})
}

func (l *PatchLog) SpliceText(obj ObjectId, index int, text string) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchSpliceText, Obj: obj, Prop: IndexProp(index), Text: text})
}

func (l *PatchLog) DeleteSeq(obj ObjectId, index, count int) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchDeleteSeq, Obj: obj, Prop: IndexProp(index), Count: count})
}

func (l *PatchLog) DeleteMap(obj ObjectId, key string) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchDeleteMap, Obj: obj, Prop: KeyProp(key)})
}

func (l *PatchLog) Increment(obj ObjectId, prop Prop, n int64, by OpId) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchIncrement, Obj: obj, Prop: prop, Inc: n, By: by})
}

func (l *PatchLog) Expose(obj ObjectId, prop Prop, v PatchValue, conflict bool) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchExpose, Obj: obj, Prop: prop, Value: v, Conflict: conflict})
}

func (l *PatchLog) FlagConflict(obj ObjectId, prop Prop) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchFlagConflict, Obj: obj, Prop: prop})
}

func (l *PatchLog) Mark(obj ObjectId, name string, value ScalarValue, start, end int) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchMark, Obj: obj, Name: name, Value: value, Start: start, End: end})
}

func (l *PatchLog) Unmark(obj ObjectId, name string, start, end int) {
	l.Events = append(l.Events, PatchEvent{Kind: PatchUnmark, Obj: obj, Name: name, Start: start, End: end})
}
