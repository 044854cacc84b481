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

// Document and bundle chunks share the change-metadata column group. Deps
// are stored as row indexes: i < rows references the i-th bundled change,
// rows+k the k-th entry of the external deps table.
var (
	specChActor   = columnar.Spec(0, columnar.TypeActor)
	specChSeq     = columnar.Spec(0, columnar.TypeDeltaInteger)
	specChMaxOp   = columnar.Spec(1, columnar.TypeDeltaInteger)
	specChTime    = columnar.Spec(2, columnar.TypeDeltaInteger)
	specChMessage = columnar.Spec(3, columnar.TypeString)
	specChDepsCnt = columnar.Spec(4, columnar.TypeGroup)
	specChDepsIdx = columnar.Spec(4, columnar.TypeDeltaInteger)
	specChExtraM  = columnar.Spec(5, columnar.TypeValueMetadata)
	specChExtraV  = columnar.Spec(5, columnar.TypeValue)
	specChStartOp = columnar.Spec(6, columnar.TypeDeltaInteger)
)

type changeColumns struct {
	actor   *columnar.RLE[uint64]
	seq     *columnar.DeltaColumn
	startOp *columnar.DeltaColumn
	maxOp   *columnar.DeltaColumn
	time    *columnar.DeltaColumn
	message *columnar.RLE[string]
	depsCnt *columnar.RLE[uint64]
	depsIdx *columnar.DeltaColumn
	extraM  *columnar.RLE[uint64]
	extraV  *columnar.RawColumn
}

func newChangeColumns() *changeColumns {
	return &changeColumns{
		actor:   columnar.NewUintColumn("ch_actor"),
		seq:     columnar.NewDeltaColumn("ch_seq"),
		startOp: columnar.NewDeltaColumn("ch_start_op"),
		maxOp:   columnar.NewDeltaColumn("ch_max_op"),
		time:    columnar.NewDeltaColumn("ch_time"),
		message: columnar.NewStringColumn("ch_message"),
		depsCnt: columnar.NewGroupColumn("ch_deps_count"),
		depsIdx: columnar.NewDeltaColumn("ch_deps_index"),
		extraM:  columnar.NewMetaColumn("ch_extra_meta"),
		extraV:  columnar.NewRawColumn("ch_extra"),
	}
}

type changeRow struct {
	actorIdx int
	seq      uint64
	startOp  uint64
	maxOp    uint64
	time     int64
	message  string
	deps     []int
	extra    []byte
}

func (cc *changeColumns) push(r changeRow) {
	n := cc.actor.Len()
	cc.actor = cc.actor.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(uint64(r.actorIdx))})
	cc.seq = cc.seq.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(int64(r.seq))})
	cc.startOp = cc.startOp.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(int64(r.startOp))})
	cc.maxOp = cc.maxOp.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(int64(r.maxOp))})
	cc.time = cc.time.Splice(n, 0, []columnar.Cell[int64]{columnar.Value(r.time)})
	if r.message == "" {
		cc.message = cc.message.Splice(n, 0, []columnar.Cell[string]{columnar.Null[string]()})
	} else {
		cc.message = cc.message.Splice(n, 0, []columnar.Cell[string]{columnar.Value(r.message)})
	}
	g := columnar.GroupPos(cc.depsCnt, n)
	cc.depsCnt = cc.depsCnt.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(uint64(len(r.deps)))})
	for i, dep := range r.deps {
		cc.depsIdx = cc.depsIdx.Splice(g+i, 0, []columnar.Cell[int64]{columnar.Value(int64(dep))})
	}
	voff := columnar.GroupPos(cc.extraM, n)
	cc.extraM = cc.extraM.Splice(n, 0, []columnar.Cell[uint64]{columnar.Value(columnar.MetaCode(columnar.MetaBytes, len(r.extra)))})
	if len(r.extra) > 0 {
		cc.extraV = cc.extraV.Splice(voff, 0, r.extra)
	}
}

func (cc *changeColumns) save() []columnBody {
	var out []columnBody
	add := func(spec uint32, save func(*bytes.Buffer)) {
		var b bytes.Buffer
		save(&b)
		if b.Len() > 0 {
			out = append(out, columnBody{spec, b.Bytes()})
		}
	}
	add(specChActor, cc.actor.Save)
	add(specChSeq, cc.seq.Save)
	add(specChStartOp, cc.startOp.Save)
	add(specChMaxOp, cc.maxOp.Save)
	add(specChTime, cc.time.Save)
	add(specChMessage, cc.message.Save)
	add(specChDepsCnt, cc.depsCnt.Save)
	add(specChDepsIdx, cc.depsIdx.Save)
	add(specChExtraM, cc.extraM.Save)
	add(specChExtraV, cc.extraV.Save)
	sort.Slice(out, func(i, j int) bool { return out[i].spec < out[j].spec })
	return out
}

func (cc *changeColumns) load(cols []columnBody) error {
	var err error
	for _, cb := range cols {
		switch cb.spec {
		case specChActor:
			cc.actor, err = cc.actor.Load(cb.data)
		case specChSeq:
			cc.seq, err = cc.seq.Load(cb.data)
		case specChStartOp:
			cc.startOp, err = cc.startOp.Load(cb.data)
		case specChMaxOp:
			cc.maxOp, err = cc.maxOp.Load(cb.data)
		case specChTime:
			cc.time, err = cc.time.Load(cb.data)
		case specChMessage:
			cc.message, err = cc.message.Load(cb.data)
		case specChDepsCnt:
			cc.depsCnt, err = cc.depsCnt.Load(cb.data)
		case specChDepsIdx:
			cc.depsIdx, err = cc.depsIdx.Load(cb.data)
		case specChExtraM:
			cc.extraM, err = cc.extraM.Load(cb.data)
		case specChExtraV:
			cc.extraV, err = cc.extraV.Load(cb.data)
		}
		if err != nil {
			return ParseError{ParseInvalidChangeColumn, err.Error()}
		}
	}
	return nil
}

func (cc *changeColumns) readRows() ([]changeRow, error) {
	n := cc.actor.Len()
	rows := make([]changeRow, 0, n)
	voff := 0
	for i := 0; i < n; i++ {
		var r changeRow
		a, ok := cc.actor.Nth(i)
		if !ok || a.Null {
			return nil, ParseError{ParseInvalidChangeColumn, "missing actor"}
		}
		r.actorIdx = int(a.Val)
		s, _ := cc.seq.Nth(i)
		r.seq = uint64(s.Val)
		so, _ := cc.startOp.Nth(i)
		r.startOp = uint64(so.Val)
		mo, _ := cc.maxOp.Nth(i)
		r.maxOp = uint64(mo.Val)
		tm, _ := cc.time.Nth(i)
		r.time = tm.Val
		msg, _ := cc.message.Nth(i)
		if !msg.Null {
			r.message = msg.Val
		}
		dc, _ := cc.depsCnt.Nth(i)
		g := columnar.GroupPos(cc.depsCnt, i)
		for k := 0; k < int(dc.Val); k++ {
			di, ok := cc.depsIdx.Nth(g + k)
			if !ok || di.Null {
				return nil, ParseError{ParseInvalidChangeColumn, "truncated deps group"}
			}
			r.deps = append(r.deps, int(di.Val))
		}
		em, _ := cc.extraM.Nth(i)
		if !em.Null {
			l := columnar.MetaLength(em.Val)
			if l > 0 {
				r.extra = cc.extraV.ReadAt(voff, l)
			}
			voff += l
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// canonicalChanges orders history topologically and deterministically: a
// dependency's max op is always below its dependent's start op, so
// (startOp, actor, seq) sorts parents first regardless of arrival order.
func canonicalChanges(history []*Change) []*Change {
	out := append([]*Change(nil), history...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartOp != out[j].StartOp {
			return out[i].StartOp < out[j].StartOp
		}
		if c := out[i].Actor.Cmp(out[j].Actor); c != 0 {
			return c < 0
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Save renders the whole document as one Document chunk: actor table,
// heads, change columns, op columns (with succ), so that the byte output
// depends only on the applied change multiset.
func (d *Document) Save() []byte {
	body := d.documentBody()
	var out bytes.Buffer
	WriteChunk(&out, ChunkDocument, body)
	d.saveIndex = len(d.history)
	return out.Bytes()
}

func (d *Document) documentBody() []byte {
	// sorted actor table
	actors := append([]ActorId(nil), d.ops.actors...)
	sort.Slice(actors, func(i, j int) bool { return actors[i].Cmp(actors[j]) < 0 })
	remap := make(map[ActorId]uint64, len(actors))
	for i, a := range actors {
		remap[a] = uint64(i)
	}

	changes := canonicalChanges(d.history)
	rowOf := make(map[ChangeHash]int, len(changes))
	for i, c := range changes {
		rowOf[c.Hash()] = i
	}
	cc := newChangeColumns()
	for _, c := range changes {
		var deps []int
		for _, dep := range c.Deps {
			deps = append(deps, rowOf[dep])
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

	oc := newOpColumns(true)
	cur := d.ops.cursor()
	for {
		_, op := cur.next()
		if op == nil {
			break
		}
		oc.push(op.Id, op.Obj, op.Key, op.Insert, op.Action, op.Succ,
			func(a ActorId) uint64 { return remap[a] })
	}

	var b bytes.Buffer
	columnar.PutUleb(&b, uint64(len(actors)))
	for _, a := range actors {
		columnar.PutUleb(&b, 16)
		b.Write(a[:])
	}
	heads := d.GetHeads()
	columnar.PutUleb(&b, uint64(len(heads)))
	for _, h := range heads {
		b.Write(h[:])
	}
	writeColumnGroup(&b, cc.save())
	writeColumnGroup(&b, oc.save())
	return b.Bytes()
}

func writeColumnGroup(b *bytes.Buffer, cols []columnBody) {
	columnar.PutUleb(b, uint64(len(cols)))
	for _, cb := range cols {
		columnar.PutUleb(b, uint64(cb.spec))
		columnar.PutUleb(b, uint64(len(cb.data)))
	}
	for _, cb := range cols {
		b.Write(cb.data)
	}
}

// SaveIncremental renders the changes applied since the last Save or
// SaveIncremental as concatenated change chunks.
func (d *Document) SaveIncremental() []byte {
	var out bytes.Buffer
	for _, c := range d.history[d.saveIndex:] {
		out.Write(c.Save())
	}
	d.saveIndex = len(d.history)
	return out.Bytes()
}

// LoadChanges parses a concatenation of change and bundle chunks without
// applying them.
func LoadChanges(data []byte) ([]*Change, error) {
	var out []*Change
	for len(data) > 0 {
		chunkType, body, rest, err := ReadChunk(data)
		if err != nil {
			return nil, err
		}
		data = rest
		switch chunkType {
		case ChunkChange:
			c, err := DecodeChangeBody(body)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		case ChunkBundle:
			it, err := DecodeBundleBody(body)
			if err != nil {
				return nil, err
			}
			for {
				c, cerr, ok := it.Next()
				if !ok {
					break
				}
				if cerr != nil {
					return nil, cerr
				}
				out = append(out, c)
			}
		default:
			return nil, ParseError{ParseBadHeader, "not a change chunk"}
		}
	}
	return out, nil
}

// Load builds a document from saved bytes: any sequence of document,
// change and bundle chunks.
func Load(data []byte) (*Document, error) {
	d := New()
	var pending []*Change
	for len(data) > 0 {
		chunkType, body, rest, err := ReadChunk(data)
		if err != nil {
			return nil, err
		}
		data = rest
		switch chunkType {
		case ChunkDocument:
			if d.ops.Len() > 0 || len(d.history) > 0 {
				return nil, ParseError{ParseBadHeader, "second document chunk"}
			}
			if err := d.loadDocumentBody(body); err != nil {
				return nil, err
			}
		case ChunkChange:
			c, err := DecodeChangeBody(body)
			if err != nil {
				return nil, err
			}
			pending = append(pending, c)
		case ChunkBundle:
			it, err := DecodeBundleBody(body)
			if err != nil {
				return nil, err
			}
			for {
				c, err, ok := it.Next()
				if !ok {
					break
				}
				if err != nil {
					return nil, err
				}
				pending = append(pending, c)
			}
		default:
			return nil, ParseError{ParseBadHeader, "unknown chunk type"}
		}
	}
	if err := d.ApplyChanges(pending...); err != nil {
		return nil, err
	}
	if len(d.queue) > 0 {
		return nil, MissingDependencyError{d.GetMissingDeps(nil)[0]}
	}
	d.saveIndex = len(d.history)
	return d, nil
}

func (d *Document) loadDocumentBody(body []byte) error {
	pos := 0
	var actorCount uint64
	var ok bool
	if actorCount, pos, ok = columnar.Uleb(body, pos); !ok {
		return ParseError{ParseTruncated, "actor table"}
	}
	actors := make([]ActorId, 0, actorCount)
	var err error
	for i := uint64(0); i < actorCount; i++ {
		var a ActorId
		if a, pos, err = readActorBytes(body, pos); err != nil {
			return err
		}
		actors = append(actors, a)
	}
	var headCount uint64
	if headCount, pos, ok = columnar.Uleb(body, pos); !ok || pos+int(headCount)*32 > len(body) {
		return ParseError{ParseTruncated, "heads"}
	}
	declaredHeads := make(map[ChangeHash]struct{}, headCount)
	for i := uint64(0); i < headCount; i++ {
		var h ChangeHash
		copy(h[:], body[pos:pos+32])
		pos += 32
		declaredHeads[h] = struct{}{}
	}
	chCols, pos, err := readColumnMeta(body, pos)
	if err != nil {
		return err
	}
	opCols, pos, err := readColumnMeta(body, pos)
	if err != nil {
		return err
	}
	if pos != len(body) {
		return ParseError{ParseTruncated, "trailing bytes in document chunk"}
	}

	cc := newChangeColumns()
	if err := cc.load(chCols); err != nil {
		return err
	}
	rows, err := cc.readRows()
	if err != nil {
		return err
	}
	oc := newOpColumns(true)
	if err := oc.load(opCols); err != nil {
		return err
	}
	actorAt := func(i int) (ActorId, bool) {
		if i < 0 || i >= len(actors) {
			return ActorId{}, false
		}
		return actors[i], true
	}
	n := oc.action.Len()
	ops, err := oc.readRows(n, nil, actorAt)
	if err != nil {
		return err
	}

	// rebuild changes: route ops by (actor, counter), invert succ to pred
	byActor := make(map[ActorId][]int)
	for i, r := range rows {
		if r.actorIdx >= len(actors) {
			return ParseError{ParseInvalidChangeColumn, "actor index out of range"}
		}
		byActor[actors[r.actorIdx]] = append(byActor[actors[r.actorIdx]], i)
	}
	for _, idxs := range byActor {
		sort.Slice(idxs, func(a, b int) bool { return rows[idxs[a]].startOp < rows[idxs[b]].startOp })
	}
	findRow := func(id OpId) int {
		for _, ri := range byActor[id.Actor] {
			if id.Counter >= rows[ri].startOp && id.Counter <= rows[ri].maxOp {
				return ri
			}
		}
		return -1
	}
	preds := make(map[OpId][]OpId)
	chOps := make(map[int][]rowOp)
	for _, r := range ops {
		ri := findRow(r.id)
		if ri < 0 {
			return ParseError{ParseInvalidOpColumn, "op " + r.id.String() + " belongs to no change"}
		}
		chOps[ri] = append(chOps[ri], r)
		for _, s := range r.refs {
			preds[s] = insertOpId(preds[s], r.id)
		}
	}
	changes := make([]*Change, len(rows))
	for ri, r := range rows {
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
		if uint64(len(list)) != r.maxOp-r.startOp+1 && !(r.maxOp < r.startOp && len(list) == 0) {
			return ParseError{ParseInvalidOpColumn, "change op count mismatch"}
		}
		for k, r2 := range list {
			if r2.id.Counter != r.startOp+uint64(k) {
				return ParseError{ParseInvalidOpColumn, "op counter gap inside change"}
			}
			c.Ops = append(c.Ops, ChangeOp{r2.obj, r2.key, r2.insert, r2.action, preds[r2.id]})
		}
		changes[ri] = c
	}
	// resolve dep indexes to hashes; rows reference only earlier rows
	for ri, r := range rows {
		for _, di := range r.deps {
			if di < 0 || di >= ri {
				return ParseError{ParseInvalidChangeColumn, "dep index out of order"}
			}
			changes[ri].Deps = append(changes[ri].Deps, changes[di].Hash())
		}
		changes[ri].SortDeps()
	}
	// replay through the normal apply path; this re-derives op positions
	// and succ and verifies the whole structure
	if err := d.ApplyChanges(changes...); err != nil {
		return err
	}
	for _, h := range d.GetHeads() {
		if _, ok := declaredHeads[h]; !ok {
			return ParseError{ParseBadHeader, "heads mismatch"}
		}
		delete(declaredHeads, h)
	}
	if len(declaredHeads) > 0 {
		return ParseError{ParseBadHeader, "heads mismatch"}
	}
	return nil
}
