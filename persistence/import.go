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

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/launix-de/deltadoc/doc"
)

// Bulk import: seed a list of map objects inside a document from external
// data sources. Every row becomes one map element appended to a fresh or
// existing list at the given root key.

func toScalar(v any) doc.ScalarValue {
	switch x := v.(type) {
	case nil:
		return doc.Null()
	case bool:
		return doc.Bool(x)
	case int64:
		return doc.Int(x)
	case int:
		return doc.Int(int64(x))
	case float64:
		return doc.F64(x)
	case string:
		return doc.Str(x)
	case []byte:
		return doc.Blob(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return doc.Int(i)
		}
		f, _ := x.Float64()
		return doc.F64(f)
	default:
		return doc.Str(strings.TrimSpace(strings.ReplaceAll(string(mustJSON(x)), "\n", " ")))
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func importList(d *doc.Document, listKey string) (*doc.Transaction, doc.ObjectId, int, error) {
	tx := d.Transact()
	if v, ok, err := d.Value(doc.Root, doc.KeyProp(listKey)); err == nil && ok && v.IsObject {
		list := doc.ObjId(v.Id)
		n, _ := d.Length(list)
		return tx, list, n, nil
	}
	list, err := tx.PutObject(doc.Root, listKey, doc.TypeList)
	if err != nil {
		tx.Rollback()
		return nil, doc.Root, 0, err
	}
	return tx, list, 0, nil
}

func appendRow(tx *doc.Transaction, list doc.ObjectId, at int, row map[string]doc.ScalarValue) error {
	obj, err := tx.InsertObject(list, at, doc.TypeMap)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := tx.Put(obj, k, row[k]); err != nil {
			return err
		}
	}
	return nil
}

// LoadCSV appends one map element per record. The first record names the
// columns. Numeric-looking fields import as numbers.
func LoadCSV(d *doc.Document, listKey string, r io.Reader, delimiter string) (int, error) {
	tx, list, at, err := importList(d, listKey)
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	var cols []string
	count := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, delimiter)
		if cols == nil {
			cols = fields
			continue
		}
		row := make(map[string]doc.ScalarValue, len(cols))
		for i, c := range cols {
			if i >= len(fields) {
				break
			}
			row[c] = csvScalar(fields[i])
		}
		if err := appendRow(tx, list, at+count, row); err != nil {
			tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		tx.Rollback()
		return 0, err
	}
	tx.SetMessage("import csv")
	_, err = tx.Commit()
	return count, err
}

func csvScalar(s string) doc.ScalarValue {
	if s == "" || s == "NULL" {
		return doc.Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return doc.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return doc.F64(f)
	}
	return doc.Str(s)
}

// LoadJSON appends one map element per JSONL line.
func LoadJSON(d *doc.Document, listKey string, r io.Reader) (int, error) {
	tx, list, at, err := importList(d, listKey)
	if err != nil {
		return 0, err
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	count := 0
	for {
		var raw map[string]any
		if err := dec.Decode(&raw); err == io.EOF {
			break
		} else if err != nil {
			tx.Rollback()
			return 0, err
		}
		row := make(map[string]doc.ScalarValue, len(raw))
		for k, v := range raw {
			row[k] = toScalar(v)
		}
		if err := appendRow(tx, list, at+count, row); err != nil {
			tx.Rollback()
			return 0, err
		}
		count++
	}
	tx.SetMessage("import json")
	_, err = tx.Commit()
	return count, err
}

// LoadSQL appends the result set of a query. driver is "mysql" or
// "postgres"; both are linked in.
func LoadSQL(d *doc.Document, listKey string, driver, dsn, query string) (int, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	rows, err := db.Query(query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	tx, list, at, err := importList(d, listKey)
	if err != nil {
		return 0, err
	}
	count := 0
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			tx.Rollback()
			return 0, err
		}
		row := make(map[string]doc.ScalarValue, len(cols))
		for i, c := range cols {
			row[c] = toScalar(vals[i])
		}
		if err := appendRow(tx, list, at+count, row); err != nil {
			tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return 0, err
	}
	tx.SetMessage("import sql")
	_, err = tx.Commit()
	return count, err
}
