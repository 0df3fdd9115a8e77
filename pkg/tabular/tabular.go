// Package tabular provides the columnar dataset model exchanged through
// FluxGate: immutable Arrow records carrying string key/value metadata on
// their schema, plus the IPC stream codec used on every boundary (HTTP
// bodies, solver frames, persistence round trips).
package tabular

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Well-known metadata keys.
const (
	// MetaName is the logical field name a dataset was uploaded under.
	MetaName = "name"

	// MetaTableName overrides MetaName for matrix datasets whose stored
	// relational name differs from the upload field.
	MetaTableName = "table_name"

	// MetaColumnComments holds a JSON object mapping an output column
	// name to the source dataset's metadata. Attached to folded category
	// datasets by the persistence engine.
	MetaColumnComments = "column_comments"
)

// Dataset is an immutable columnar table: an Arrow record plus the
// string metadata carried on its schema. The zero value is not usable;
// construct datasets with New, Build or FromArrays.
type Dataset struct {
	rec arrow.Record
}

// Bundle is a set of datasets keyed by the field name they were
// uploaded under. Bundles are what actions gather, the solver consumes
// and the persistence engine folds.
type Bundle map[string]Dataset

// New wraps an existing Arrow record.
func New(rec arrow.Record) Dataset {
	return Dataset{rec: rec}
}

// Record returns the underlying Arrow record.
func (d Dataset) Record() arrow.Record { return d.rec }

// NumRows returns the row count.
func (d Dataset) NumRows() int64 { return d.rec.NumRows() }

// NumCols returns the column count.
func (d Dataset) NumCols() int64 { return d.rec.NumCols() }

// Schema returns the Arrow schema.
func (d Dataset) Schema() *arrow.Schema { return d.rec.Schema() }

// Column returns column i.
func (d Dataset) Column(i int) arrow.Array { return d.rec.Column(i) }

// ColumnName returns the name of column i.
func (d Dataset) ColumnName(i int) string { return d.rec.ColumnName(i) }

// FieldIndex returns the index of the named column, or -1.
func (d Dataset) FieldIndex(name string) int {
	for i, f := range d.rec.Schema().Fields() {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// SizeBytes returns the in-memory payload size: the sum of the column
// buffer lengths.
func (d Dataset) SizeBytes() int64 {
	var n int64
	for i := 0; int64(i) < d.rec.NumCols(); i++ {
		data := d.rec.Column(i).Data()
		for _, buf := range data.Buffers() {
			if buf != nil {
				n += int64(buf.Len())
			}
		}
	}
	return n
}

// Metadata returns the schema metadata as a map. Mutating the result
// does not affect the dataset.
func (d Dataset) Metadata() map[string]string {
	md := d.rec.Schema().Metadata()
	out := make(map[string]string, md.Len())
	keys := md.Keys()
	vals := md.Values()
	for i := range keys {
		out[keys[i]] = vals[i]
	}
	return out
}

// MetadataValue looks up a single metadata key.
func (d Dataset) MetadataValue(key string) (string, bool) {
	md := d.rec.Schema().Metadata()
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i], true
	}
	return "", false
}

// FieldName returns the logical field name declared in metadata.
func (d Dataset) FieldName() (string, bool) {
	return d.MetadataValue(MetaName)
}

// TableName returns the relational table name for matrix datasets:
// the table_name metadata when present, else the field name.
func (d Dataset) TableName() (string, bool) {
	if v, ok := d.MetadataValue(MetaTableName); ok {
		return v, true
	}
	return d.FieldName()
}

// WithMetadata returns a dataset with the same columns and the given
// metadata replacing the schema metadata entirely.
func (d Dataset) WithMetadata(md map[string]string) Dataset {
	old := d.rec.Schema()
	m := metadataFromMap(md)
	schema := arrow.NewSchema(old.Fields(), &m)
	cols := make([]arrow.Array, d.rec.NumCols())
	for i := range cols {
		cols[i] = d.rec.Column(i)
	}
	return Dataset{rec: array.NewRecord(schema, cols, d.rec.NumRows())}
}

// Value returns the cell at column c, row r as a Go value: one of
// string, int64, int32, float64 or bool. Null cells return nil.
func (d Dataset) Value(c, r int) (any, error) {
	if c < 0 || int64(c) >= d.rec.NumCols() {
		return nil, fmt.Errorf("column %d out of range", c)
	}
	if r < 0 || int64(r) >= d.rec.NumRows() {
		return nil, fmt.Errorf("row %d out of range", r)
	}
	col := d.rec.Column(c)
	if col.IsNull(r) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.String:
		return a.Value(r), nil
	case *array.Int64:
		return a.Value(r), nil
	case *array.Int32:
		return a.Value(r), nil
	case *array.Float64:
		return a.Value(r), nil
	case *array.Boolean:
		return a.Value(r), nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", col.DataType().Name())
	}
}

// StringColumn returns column c as a string slice. Null cells become
// empty strings. The column must be a string column.
func (d Dataset) StringColumn(c int) ([]string, error) {
	if c < 0 || int64(c) >= d.rec.NumCols() {
		return nil, fmt.Errorf("column %d out of range", c)
	}
	a, ok := d.rec.Column(c).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, not string",
			d.rec.ColumnName(c), d.rec.Column(c).DataType().Name())
	}
	out := make([]string, a.Len())
	for i := range out {
		if !a.IsNull(i) {
			out[i] = a.Value(i)
		}
	}
	return out, nil
}

// metadataFromMap builds Arrow metadata with deterministic key order.
func metadataFromMap(md map[string]string) arrow.Metadata {
	if len(md) == 0 {
		return arrow.Metadata{}
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = md[k]
	}
	return arrow.NewMetadata(keys, vals)
}
