// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package snapshot

// Partition filtering is pure metadata work: filters are evaluated
// against the partition values recorded in add actions, never against
// data-file contents. Comparisons are typed, driven by the partition
// column's declared type in the current schema.

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tablelog.io/action"
	"tablelog.io/errors"
	"tablelog.io/tablelog"
)

// FilterOp selects the comparison a PartitionFilter applies.
type FilterOp int

// Filter operations.
const (
	Equal FilterOp = iota
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	In
	NotIn
)

// PartitionFilter restricts a file listing by one partition column.
// Scalar operations use Values[0]; In and NotIn use all of Values.
type PartitionFilter struct {
	Key    string
	Op     FilterOp
	Values []string
}

// String renders the filter in a SQL-like form, as recorded in commit
// provenance. For example: year = '2020', month IN ('11', '12').
func (f *PartitionFilter) String() string {
	quote := func(vs []string) string {
		q := make([]string, len(vs))
		for i, v := range vs {
			q[i] = "'" + v + "'"
		}
		return strings.Join(q, ", ")
	}
	one := ""
	if len(f.Values) > 0 {
		one = f.Values[0]
	}
	switch f.Op {
	case Equal:
		return fmt.Sprintf("%s = '%s'", f.Key, one)
	case NotEqual:
		return fmt.Sprintf("%s != '%s'", f.Key, one)
	case GreaterThan:
		return fmt.Sprintf("%s > '%s'", f.Key, one)
	case GreaterThanOrEqual:
		return fmt.Sprintf("%s >= '%s'", f.Key, one)
	case LessThan:
		return fmt.Sprintf("%s < '%s'", f.Key, one)
	case LessThanOrEqual:
		return fmt.Sprintf("%s <= '%s'", f.Key, one)
	case In:
		return fmt.Sprintf("%s IN (%s)", f.Key, quote(f.Values))
	case NotIn:
		return fmt.Sprintf("%s NOT IN (%s)", f.Key, quote(f.Values))
	}
	return fmt.Sprintf("%s ?op? %v", f.Key, f.Values)
}

// FilesMatching returns the active files whose partition values
// satisfy every filter, sorted by path. Each filter key must name a
// partition column of the current schema.
func (s *Snapshot) FilesMatching(filters ...PartitionFilter) ([]*action.Add, error) {
	const op errors.Op = "snapshot.FilesMatching"
	if len(filters) == 0 {
		return s.Files(), nil
	}
	if s.metadata == nil || s.schema == nil {
		return nil, errors.E(op, s.table, errors.Invalid, errors.Str("table has no metadata"))
	}
	types := make(map[string]tablelog.DataType)
	for _, f := range filters {
		if !isPartitionColumn(s.metadata.PartitionColumns, f.Key) {
			return nil, errors.E(op, s.table, errors.Invalid, errors.Errorf("%q is not a partition column", f.Key))
		}
		col := s.schema.Field(f.Key)
		if col == nil {
			return nil, errors.E(op, s.table, errors.Invalid, errors.Errorf("partition column %q is not in the schema", f.Key))
		}
		types[f.Key] = col.PrimitiveType()
	}
	var matched []*action.Add
	for _, a := range s.files {
		ok := true
		for _, f := range filters {
			if !f.match(a.PartitionValues[f.Key], types[f.Key]) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Path < matched[j].Path })
	return matched, nil
}

func isPartitionColumn(cols []string, key string) bool {
	for _, c := range cols {
		if c == key {
			return true
		}
	}
	return false
}

// match evaluates the filter against one file's value for the key.
// A nil value, or the null partition marker, is a null; an equality
// filter against the empty string matches exactly the nulls.
func (f *PartitionFilter) match(value *string, dt tablelog.DataType) bool {
	null := value == nil || *value == tablelog.NullPartitionValue
	pv := ""
	if !null {
		pv = *value
	}
	one := ""
	if len(f.Values) > 0 {
		one = f.Values[0]
	}
	if f.Op == Equal && one == "" {
		return null
	}
	switch f.Op {
	case Equal:
		if dt == tablelog.Timestamp {
			c, ok := compareTyped(pv, one, dt)
			return ok && c == 0
		}
		return !null && pv == one
	case NotEqual:
		if dt == tablelog.Timestamp {
			c, ok := compareTyped(pv, one, dt)
			return ok && c != 0
		}
		return pv != one
	case GreaterThan:
		c, ok := compareTyped(pv, one, dt)
		return ok && c > 0
	case GreaterThanOrEqual:
		c, ok := compareTyped(pv, one, dt)
		return ok && c >= 0
	case LessThan:
		c, ok := compareTyped(pv, one, dt)
		return ok && c < 0
	case LessThanOrEqual:
		c, ok := compareTyped(pv, one, dt)
		return ok && c <= 0
	case In:
		return contains(f.Values, pv)
	case NotIn:
		return !contains(f.Values, pv)
	}
	return false
}

func contains(vs []string, v string) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// timestampLayouts lists the accepted textual timestamp encodings,
// most common first.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// compareTyped compares a partition value against a filter value
// under the column's type. ok is false when either side fails to
// parse; order comparisons on unparseable values never match.
func compareTyped(pv, fv string, dt tablelog.DataType) (int, bool) {
	switch dt {
	case tablelog.Integer, tablelog.Long, tablelog.Short, tablelog.Byte:
		a, err1 := strconv.ParseInt(pv, 10, 64)
		b, err2 := strconv.ParseInt(fv, 10, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmp(a, b), true
	case tablelog.Float, tablelog.Double:
		a, err1 := strconv.ParseFloat(pv, 64)
		b, err2 := strconv.ParseFloat(fv, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmp(a, b), true
	case tablelog.Boolean:
		a, err1 := strconv.ParseBool(pv)
		b, err2 := strconv.ParseBool(fv)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmp(btoi(a), btoi(b)), true
	case tablelog.Date:
		a, err1 := time.Parse("2006-01-02", pv)
		b, err2 := time.Parse("2006-01-02", fv)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmp(a.Unix(), b.Unix()), true
	case tablelog.Timestamp:
		a, ok1 := parseTimestamp(pv)
		b, ok2 := parseTimestamp(fv)
		if !ok1 || !ok2 {
			return 0, false
		}
		return cmp(a.UnixNano(), b.UnixNano()), true
	case tablelog.String, tablelog.Binary:
		return strings.Compare(pv, fv), true
	}
	return 0, false
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func cmp[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func btoi(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
