package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
)

type colKind int

const (
	kindString colKind = iota
	kindInt64
	kindInt32
	kindFloat64
	kindBool
)

// kindForDBType maps a driver's reported column type to a scan kind.
// Names differ between DuckDB and the pgx stdlib driver, so both
// spellings of each type are accepted.
func kindForDBType(name string) (colKind, error) {
	switch strings.ToUpper(name) {
	case "VARCHAR", "TEXT", "STRING", "BPCHAR", "CHAR", "NAME":
		return kindString, nil
	case "BIGINT", "INT8", "INT64":
		return kindInt64, nil
	case "INTEGER", "INT4", "INT", "INT32":
		return kindInt32, nil
	case "DOUBLE", "DOUBLE PRECISION", "FLOAT8", "FLOAT64":
		return kindFloat64, nil
	case "BOOLEAN", "BOOL":
		return kindBool, nil
	default:
		return 0, fmt.Errorf("unsupported database type %q", name)
	}
}

// colBuilder accumulates one column's values across scanned rows,
// tracking NULLs so they survive the round trip.
type colBuilder struct {
	name string
	kind colKind

	s   sql.NullString
	i64 sql.NullInt64
	i32 sql.NullInt32
	f64 sql.NullFloat64
	b   sql.NullBool

	strs  []string
	i64s  []int64
	i32s  []int32
	f64s  []float64
	bools []bool
	valid []bool
}

func (cb *colBuilder) target() any {
	switch cb.kind {
	case kindInt64:
		return &cb.i64
	case kindInt32:
		return &cb.i32
	case kindFloat64:
		return &cb.f64
	case kindBool:
		return &cb.b
	default:
		return &cb.s
	}
}

func (cb *colBuilder) take() {
	switch cb.kind {
	case kindInt64:
		cb.i64s = append(cb.i64s, cb.i64.Int64)
		cb.valid = append(cb.valid, cb.i64.Valid)
	case kindInt32:
		cb.i32s = append(cb.i32s, cb.i32.Int32)
		cb.valid = append(cb.valid, cb.i32.Valid)
	case kindFloat64:
		cb.f64s = append(cb.f64s, cb.f64.Float64)
		cb.valid = append(cb.valid, cb.f64.Valid)
	case kindBool:
		cb.bools = append(cb.bools, cb.b.Bool)
		cb.valid = append(cb.valid, cb.b.Valid)
	default:
		cb.strs = append(cb.strs, cb.s.String)
		cb.valid = append(cb.valid, cb.s.Valid)
	}
}

func (cb *colBuilder) col() tabular.Col {
	c := tabular.Col{Name: cb.name, Valid: cb.valid}
	switch cb.kind {
	case kindInt64:
		c.Values = cb.i64s
	case kindInt32:
		c.Values = cb.i32s
	case kindFloat64:
		c.Values = cb.f64s
	case kindBool:
		c.Values = cb.bools
	default:
		c.Values = cb.strs
	}
	return c
}

// datasetFromRows drains rows into a dataset carrying md as metadata.
// Column types come from the driver; anything outside the supported
// set fails rather than degrading silently.
func datasetFromRows(rows *sql.Rows, md map[string]string) (tabular.Dataset, error) {
	names, err := rows.Columns()
	if err != nil {
		return tabular.Dataset{}, fmt.Errorf("failed to read column names: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return tabular.Dataset{}, fmt.Errorf("failed to read column types: %w", err)
	}

	builders := make([]*colBuilder, len(names))
	targets := make([]any, len(names))
	for i, name := range names {
		kind, err := kindForDBType(types[i].DatabaseTypeName())
		if err != nil {
			return tabular.Dataset{}, fmt.Errorf("column %q: %w", name, err)
		}
		builders[i] = &colBuilder{name: name, kind: kind}
		targets[i] = builders[i].target()
	}

	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return tabular.Dataset{}, fmt.Errorf("failed to scan row: %w", err)
		}
		for _, cb := range builders {
			cb.take()
		}
	}
	if err := rows.Err(); err != nil {
		return tabular.Dataset{}, fmt.Errorf("error iterating rows: %w", err)
	}

	cols := make([]tabular.Col, len(builders))
	for i, cb := range builders {
		cols[i] = cb.col()
	}
	return tabular.Build(md, cols...)
}

// commentToMap decodes the JSON object stored in a table or column
// comment back into a metadata map.
func commentToMap(comment string) (map[string]string, error) {
	var md map[string]string
	if err := json.Unmarshal([]byte(comment), &md); err != nil {
		return nil, fmt.Errorf("comment is not a JSON object: %w", err)
	}
	return md, nil
}
