package tabular

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Marshal encodes a dataset as one Arrow IPC stream: schema message
// followed by a single record batch.
func Marshal(d Dataset) ([]byte, error) {
	if d.rec == nil {
		return nil, fmt.Errorf("cannot marshal empty dataset")
	}

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(d.rec.Schema()), ipc.WithAllocator(memory.NewGoAllocator()))
	if err := w.Write(d.rec); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ipc stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes one Arrow IPC stream into a dataset. Streams with
// multiple record batches are concatenated column-wise; a stream with a
// schema and no batches decodes to a zero-row dataset.
func Unmarshal(b []byte) (Dataset, error) {
	mem := memory.NewGoAllocator()
	r, err := ipc.NewReader(bytes.NewReader(b), ipc.WithAllocator(mem))
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to open ipc stream: %w", err)
	}
	defer r.Release()

	var recs []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := r.Err(); err != nil {
		return Dataset{}, fmt.Errorf("failed to read ipc stream: %w", err)
	}

	schema := r.Schema()
	switch len(recs) {
	case 0:
		cols := make([]arrow.Array, len(schema.Fields()))
		for i, f := range schema.Fields() {
			cols[i] = array.MakeArrayOfNull(mem, f.Type, 0)
		}
		return Dataset{rec: array.NewRecord(schema, cols, 0)}, nil
	case 1:
		return Dataset{rec: recs[0]}, nil
	}

	// Multiple batches: concatenate per column.
	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
	}
	cols := make([]arrow.Array, len(schema.Fields()))
	for i := range cols {
		parts := make([]arrow.Array, len(recs))
		for j, rec := range recs {
			parts[j] = rec.Column(i)
		}
		col, err := array.Concatenate(parts, mem)
		if err != nil {
			return Dataset{}, fmt.Errorf("failed to concatenate column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = col
	}
	for _, rec := range recs {
		rec.Release()
	}
	return Dataset{rec: array.NewRecord(schema, cols, rows)}, nil
}
