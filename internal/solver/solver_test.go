package solver

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxstack-labs/fluxgate/internal/testutil"
	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
	"github.com/fluxstack-labs/fluxgate/pkg/wire"
)

func named(t *testing.T, field string, values any) tabular.Dataset {
	t.Helper()
	ds, err := tabular.Build(
		map[string]string{tabular.MetaName: field},
		tabular.Col{Name: field, Values: values},
	)
	require.NoError(t, err)
	return ds
}

func statusTable(t *testing.T, cols ...tabular.Col) tabular.Dataset {
	t.Helper()
	ds, err := tabular.Build(nil, cols...)
	require.NoError(t, err)
	return ds
}

func successStatus(t *testing.T, numTables int64) tabular.Dataset {
	t.Helper()
	return statusTable(t,
		tabular.Col{Name: "success", Values: []bool{true}},
		tabular.Col{Name: "num_tables", Values: []int64{numTables}},
	)
}

func failureStatus(t *testing.T, msg string) tabular.Dataset {
	t.Helper()
	return statusTable(t,
		tabular.Col{Name: "success", Values: []bool{false}},
		tabular.Col{Name: "error_message", Values: []string{msg}},
	)
}

func writeTables(t *testing.T, w io.Writer, tables ...tabular.Dataset) {
	t.Helper()
	for _, ds := range tables {
		buf, err := tabular.Marshal(ds)
		require.NoError(t, err)
		require.NoError(t, wire.WriteFrame(w, buf))
	}
	require.NoError(t, wire.WriteTerminator(w))
}

// startBackend runs a one-shot fake optimization backend. It reads the
// whole inbound sequence, reports it on the received channel and then
// lets respond write the reply.
func startBackend(t *testing.T, respond func(w io.Writer, received []tabular.Dataset)) (*Client, <-chan []tabular.Dataset) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan []tabular.Dataset, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		frames, err := wire.ReadAll(bufio.NewReader(conn))
		if err != nil {
			return
		}
		tables := make([]tabular.Dataset, 0, len(frames))
		for _, frame := range frames {
			ds, err := tabular.Unmarshal(frame)
			if err != nil {
				return
			}
			tables = append(tables, ds)
		}
		received <- tables
		respond(conn, tables)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := New(Config{Host: host, Port: port, Timeout: 5 * time.Second}, testutil.NewTestLogger(t))
	return client, received
}

func receivedTables(t *testing.T, ch <-chan []tabular.Dataset) []tabular.Dataset {
	t.Helper()
	select {
	case tables := <-ch:
		return tables
	case <-time.After(5 * time.Second):
		t.Fatal("backend never received the bundle")
		return nil
	}
}

func fieldNames(t *testing.T, tables []tabular.Dataset) []string {
	t.Helper()
	names := make([]string, len(tables))
	for i, ds := range tables {
		name, ok := ds.FieldName()
		require.True(t, ok)
		names[i] = name
	}
	return names
}

func TestClient_Solve(t *testing.T) {
	primary := named(t, "fluxes", []float64{1.5, 0, 3.25})
	stats := named(t, "stats", []string{"optimal"})

	client, received := startBackend(t, func(w io.Writer, _ []tabular.Dataset) {
		writeTables(t, w, successStatus(t, 2), primary, stats)
	})

	bundle := tabular.Bundle{
		"solver": named(t, "whatever", []string{"glpk"}),
		"rxns":   named(t, "rxns", []string{"r1", "r2"}),
		"lb":     named(t, "lb", []float64{0, 0}),
		"junk":   named(t, "junk", []string{"dropped"}),
	}
	results, err := client.Solve(context.Background(), bundle)
	require.NoError(t, err)

	require.Len(t, results, 2)
	name, _ := results[0].FieldName()
	assert.Equal(t, "fluxes", name)
	name, _ = results[1].FieldName()
	assert.Equal(t, "stats", name)

	// Unknown fields never reach the backend; the solver table is
	// re-labeled under its canonical name.
	sent := receivedTables(t, received)
	assert.Equal(t, []string{"solver", "lb", "rxns"}, fieldNames(t, sent))
}

func TestClient_Solve_PlaceholderSolver(t *testing.T) {
	client, received := startBackend(t, func(w io.Writer, _ []tabular.Dataset) {
		writeTables(t, w, successStatus(t, 0))
	})

	bundle := tabular.Bundle{"rxns": named(t, "rxns", []string{"r1"})}
	results, err := client.Solve(context.Background(), bundle)
	require.NoError(t, err)
	assert.Empty(t, results)

	sent := receivedTables(t, received)
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"solver", "rxns"}, fieldNames(t, sent))

	placeholder := sent[0]
	assert.Equal(t, int64(2), placeholder.NumCols())
	assert.Equal(t, int64(0), placeholder.NumRows())
	assert.Equal(t, "solver_name", placeholder.ColumnName(0))
	assert.Equal(t, "solver_params", placeholder.ColumnName(1))
}

func TestClient_Solve_BackendFailure(t *testing.T) {
	client, _ := startBackend(t, func(w io.Writer, _ []tabular.Dataset) {
		writeTables(t, w, failureStatus(t, "model is infeasible"))
	})

	_, err := client.Solve(context.Background(), tabular.Bundle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimization failed: model is infeasible")
}

func TestClient_Solve_CountMismatch(t *testing.T) {
	client, _ := startBackend(t, func(w io.Writer, _ []tabular.Dataset) {
		writeTables(t, w, successStatus(t, 3), named(t, "only", []int64{1}))
	})

	_, err := client.Solve(context.Background(), tabular.Bundle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 3 result tables, got 1")
}

func TestClient_Solve_EmptyResponse(t *testing.T) {
	client, _ := startBackend(t, func(w io.Writer, _ []tabular.Dataset) {
		// Terminator with no status table at all.
		_ = wire.WriteTerminator(w)
	})

	_, err := client.Solve(context.Background(), tabular.Bundle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no status table received")
}

func TestClient_Solve_ConnectionDropped(t *testing.T) {
	client, _ := startBackend(t, func(w io.Writer, _ []tabular.Dataset) {
		// Close without writing anything.
	})

	_, err := client.Solve(context.Background(), tabular.Bundle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimization failed")
}

func TestClient_Solve_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	client := New(Config{Host: host, Port: port, Timeout: time.Second}, nil)
	_, err = client.Solve(context.Background(), tabular.Bundle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to solver")
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name   string
		ds     tabular.Dataset
		want   status
		errMsg string
	}{
		{
			name: "success with int64 count",
			ds:   successStatus(t, 4),
			want: status{success: true, numTables: 4},
		},
		{
			name: "success with int32 count",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []bool{true}},
				tabular.Col{Name: "num_tables", Values: []int32{2}},
			),
			want: status{success: true, numTables: 2},
		},
		{
			name: "failure carries message",
			ds:   failureStatus(t, "unbounded"),
			want: status{success: false, errorMessage: "unbounded"},
		},
		{
			name: "no rows",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []bool{}},
			),
			errMsg: "status table has no rows",
		},
		{
			name: "missing success column",
			ds: statusTable(t,
				tabular.Col{Name: "ok", Values: []bool{true}},
			),
			errMsg: "status table has no success column",
		},
		{
			name: "success not boolean",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []string{"yes"}},
			),
			errMsg: "status column success is not boolean",
		},
		{
			name: "missing num_tables on success",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []bool{true}},
			),
			errMsg: "status table has no num_tables column",
		},
		{
			name: "num_tables not integer",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []bool{true}},
				tabular.Col{Name: "num_tables", Values: []float64{2}},
			),
			errMsg: "status column num_tables is not an integer",
		},
		{
			name: "missing error_message on failure",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []bool{false}},
			),
			errMsg: "status table has no error_message column",
		},
		{
			name: "null success cell",
			ds: statusTable(t,
				tabular.Col{Name: "success", Values: []bool{false}, Valid: []bool{false}},
			),
			errMsg: "status column success is null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeStatus(tt.ds)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterBundle_Order(t *testing.T) {
	bundle := tabular.Bundle{
		"mets":   named(t, "mets", []string{"m1"}),
		"ctrs":   named(t, "ctrs", []string{"c1"}),
		"S":      named(t, "S", []float64{1}),
		"solver": named(t, "solver", []string{"glpk"}),
		"extra":  named(t, "extra", []string{"x"}),
	}
	payload, err := FilterBundle(bundle)
	require.NoError(t, err)
	assert.Equal(t, []string{"solver", "S", "mets", "ctrs"}, fieldNames(t, payload))
}
