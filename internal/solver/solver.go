// Package solver implements the client side of the framed stream
// protocol the optimization backend listens on. Each Solve call is one
// synchronous request/response cycle on a fresh TCP connection: the
// filtered bundle goes out as length-prefixed Arrow IPC frames, the
// backend answers with a status table followed by the declared number
// of result tables.
package solver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
	"github.com/fluxstack-labs/fluxgate/pkg/wire"
)

// FieldSolver is the field name of the synthetic solver table.
const FieldSolver = "solver"

// requiredFields and optionalFields define what an outbound bundle may
// carry, in send order. Anything else is dropped before framing.
var (
	requiredFields = []string{FieldSolver, "S", "b", "c", "lb", "ub", "osense", "osenseStr", "csense", "rxns", "mets"}
	optionalFields = []string{"C", "d", "dsense", "ctrs"}
)

// Config holds the backend endpoint. Timeout bounds the whole round
// trip including dialing; zero means no deadline.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Client talks to one optimization backend. It is safe for concurrent
// use; calls share no connection state.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a client. A nil logger discards.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 65432
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{cfg: cfg, logger: logger}
}

// Addr returns the backend address in host:port form.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Solve submits the bundle and returns the backend's result tables in
// arrival order. Every failure, from dialing to a miscounted
// response, is reported as a single optimization failure.
func (c *Client) Solve(ctx context.Context, bundle tabular.Bundle) ([]tabular.Dataset, error) {
	results, err := c.solve(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	return results, nil
}

func (c *Client) solve(ctx context.Context, bundle tabular.Bundle) ([]tabular.Dataset, error) {
	payload, err := FilterBundle(bundle)
	if err != nil {
		return nil, err
	}

	addr := c.Addr()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to solver at %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if c.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c.logger.Debug("submitting bundle to solver",
		slog.String("addr", addr),
		slog.Int("tables", len(payload)))

	if err := sendTables(conn, payload); err != nil {
		return nil, err
	}
	results, err := receiveResults(conn)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("solver round trip complete", slog.Int("results", len(results)))
	return results, nil
}

// FilterBundle selects the fields the backend understands, in a fixed
// send order. The solver table is always present: an existing one is
// re-labeled under the solver name, a missing one becomes an empty
// two column placeholder.
func FilterBundle(bundle tabular.Bundle) ([]tabular.Dataset, error) {
	out := make([]tabular.Dataset, 0, len(requiredFields)+len(optionalFields))
	for _, field := range requiredFields {
		ds, ok := bundle[field]
		if !ok {
			if field == FieldSolver {
				placeholder, err := placeholderSolver()
				if err != nil {
					return nil, err
				}
				out = append(out, placeholder)
			}
			continue
		}
		if field == FieldSolver {
			ds = ds.WithMetadata(map[string]string{tabular.MetaName: FieldSolver})
		}
		out = append(out, ds)
	}
	for _, field := range optionalFields {
		if ds, ok := bundle[field]; ok {
			out = append(out, ds)
		}
	}
	return out, nil
}

func placeholderSolver() (tabular.Dataset, error) {
	return tabular.Build(
		map[string]string{tabular.MetaName: FieldSolver},
		tabular.Col{Name: "solver_name", Values: []string{}},
		tabular.Col{Name: "solver_params", Values: []string{}},
	)
}

func sendTables(w io.Writer, payload []tabular.Dataset) error {
	for _, ds := range payload {
		buf, err := tabular.Marshal(ds)
		if err != nil {
			return fmt.Errorf("failed to encode table: %w", err)
		}
		if err := wire.WriteFrame(w, buf); err != nil {
			return fmt.Errorf("failed to send table: %w", err)
		}
	}
	if err := wire.WriteTerminator(w); err != nil {
		return fmt.Errorf("failed to send terminator: %w", err)
	}
	return nil
}

func receiveResults(r io.Reader) ([]tabular.Dataset, error) {
	br := bufio.NewReader(r)

	first, err := wire.ReadFrame(br)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("no status table received")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status table: %w", err)
	}
	statusDS, err := tabular.Unmarshal(first)
	if err != nil {
		return nil, fmt.Errorf("failed to decode status table: %w", err)
	}
	st, err := decodeStatus(statusDS)
	if err != nil {
		return nil, err
	}
	if !st.success {
		return nil, errors.New(st.errorMessage)
	}

	var results []tabular.Dataset
	for {
		frame, err := wire.ReadFrame(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read result table: %w", err)
		}
		ds, err := tabular.Unmarshal(frame)
		if err != nil {
			return nil, fmt.Errorf("failed to decode result table: %w", err)
		}
		results = append(results, ds)
	}
	if len(results) != st.numTables {
		return nil, fmt.Errorf("expected %d result tables, got %d", st.numTables, len(results))
	}
	return results, nil
}

type status struct {
	success      bool
	numTables    int
	errorMessage string
}

// decodeStatus reads the first response table. success is mandatory;
// num_tables is required on success, error_message on failure. Any
// other shape is a protocol error.
func decodeStatus(ds tabular.Dataset) (status, error) {
	if ds.NumRows() == 0 {
		return status{}, fmt.Errorf("status table has no rows")
	}
	v, err := statusValue(ds, "success")
	if err != nil {
		return status{}, err
	}
	ok, isBool := v.(bool)
	if !isBool {
		return status{}, fmt.Errorf("status column success is not boolean")
	}

	st := status{success: ok}
	if ok {
		v, err := statusValue(ds, "num_tables")
		if err != nil {
			return status{}, err
		}
		switch n := v.(type) {
		case int64:
			st.numTables = int(n)
		case int32:
			st.numTables = int(n)
		default:
			return status{}, fmt.Errorf("status column num_tables is not an integer")
		}
		return st, nil
	}

	v, err = statusValue(ds, "error_message")
	if err != nil {
		return status{}, err
	}
	msg, isString := v.(string)
	if !isString {
		return status{}, fmt.Errorf("status column error_message is not a string")
	}
	st.errorMessage = msg
	return st, nil
}

func statusValue(ds tabular.Dataset, column string) (any, error) {
	i := ds.FieldIndex(column)
	if i < 0 {
		return nil, fmt.Errorf("status table has no %s column", column)
	}
	v, err := ds.Value(i, 0)
	if err != nil {
		return nil, fmt.Errorf("status column %s: %w", column, err)
	}
	if v == nil {
		return nil, fmt.Errorf("status column %s is null", column)
	}
	return v, nil
}
