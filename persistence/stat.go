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
package persistence

import "fmt"
import "runtime"
import "strings"
import "github.com/docker/go-units"
import "github.com/launix-de/deltadoc/doc"

func MemUsage() string {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Alloc = %s\tTotalAlloc = %s\tSys = %s\tNumGC = %v",
		units.BytesSize(float64(m.Alloc)), units.BytesSize(float64(m.TotalAlloc)),
		units.BytesSize(float64(m.Sys)), m.NumGC))
	return b.String()
}

// DocStat summarises one document for the shell.
func DocStat(d *doc.Document) string {
	return fmt.Sprintf("changes=%d ops=%d queued=%d heads=%d maxop=%d",
		d.NumChanges(), d.OpSet().Len(), d.QueueLen(), len(d.GetHeads()), d.MaxOp())
}
