package tabular

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Col describes one column for Build. Values must be a slice of string,
// int64, int32, float64 or bool. Valid marks non-null rows; nil means
// all rows are valid.
type Col struct {
	Name   string
	Values any
	Valid  []bool
}

// Build constructs a dataset from typed columns. All columns must have
// the same length. Metadata may be nil.
func Build(md map[string]string, cols ...Col) (Dataset, error) {
	if len(cols) == 0 {
		return Dataset{}, fmt.Errorf("dataset needs at least one column")
	}

	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, 0, len(cols))
	arrs := make([]arrow.Array, 0, len(cols))
	rows := -1

	for _, c := range cols {
		var (
			arr arrow.Array
			typ arrow.DataType
			n   int
		)
		switch v := c.Values.(type) {
		case []string:
			b := array.NewStringBuilder(mem)
			b.AppendValues(v, c.Valid)
			arr, typ, n = b.NewArray(), arrow.BinaryTypes.String, len(v)
		case []int64:
			b := array.NewInt64Builder(mem)
			b.AppendValues(v, c.Valid)
			arr, typ, n = b.NewArray(), arrow.PrimitiveTypes.Int64, len(v)
		case []int32:
			b := array.NewInt32Builder(mem)
			b.AppendValues(v, c.Valid)
			arr, typ, n = b.NewArray(), arrow.PrimitiveTypes.Int32, len(v)
		case []float64:
			b := array.NewFloat64Builder(mem)
			b.AppendValues(v, c.Valid)
			arr, typ, n = b.NewArray(), arrow.PrimitiveTypes.Float64, len(v)
		case []bool:
			b := array.NewBooleanBuilder(mem)
			b.AppendValues(v, c.Valid)
			arr, typ, n = b.NewArray(), arrow.FixedWidthTypes.Boolean, len(v)
		default:
			return Dataset{}, fmt.Errorf("unsupported value type %T for column %q", c.Values, c.Name)
		}

		if rows == -1 {
			rows = n
		} else if n != rows {
			return Dataset{}, fmt.Errorf("column %q has %d rows, want %d", c.Name, n, rows)
		}

		fields = append(fields, arrow.Field{Name: c.Name, Type: typ, Nullable: true})
		arrs = append(arrs, arr)
	}

	schema := newSchema(fields, md)
	return Dataset{rec: array.NewRecord(schema, arrs, int64(rows))}, nil
}

// FromArrays assembles a dataset from prebuilt Arrow columns. All
// columns must share the same length.
func FromArrays(md map[string]string, names []string, cols []arrow.Array) (Dataset, error) {
	if len(names) != len(cols) {
		return Dataset{}, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	if len(cols) == 0 {
		return Dataset{}, fmt.Errorf("dataset needs at least one column")
	}

	rows := cols[0].Len()
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		if col.Len() != rows {
			return Dataset{}, fmt.Errorf("column %q has %d rows, want %d", names[i], col.Len(), rows)
		}
		fields[i] = arrow.Field{Name: names[i], Type: col.DataType(), Nullable: true}
	}

	schema := newSchema(fields, md)
	return Dataset{rec: array.NewRecord(schema, cols, int64(rows))}, nil
}

func newSchema(fields []arrow.Field, md map[string]string) *arrow.Schema {
	if len(md) == 0 {
		return arrow.NewSchema(fields, nil)
	}
	m := metadataFromMap(md)
	return arrow.NewSchema(fields, &m)
}
