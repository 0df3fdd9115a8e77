// Package dispatch implements the named control actions of the
// gateway: clear, shutdown, optimize, persist and load. Actions take a
// flat JSON payload of string fields and yield zero or more opaque
// result units; business failures (bad payloads, empty schemas, failed
// optimizations) are ordinary errors the transport reports in band,
// never transport faults.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fluxstack-labs/fluxgate/internal/solver"
	"github.com/fluxstack-labs/fluxgate/pkg/catalog"
	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
)

var (
	// ErrParse marks a malformed or incomplete action payload.
	ErrParse = errors.New("invalid action payload")

	// ErrNoData marks an action against a schema with no catalog entries.
	ErrNoData = errors.New("no data found")
)

// UnknownActionError is returned when a dispatch names no registered
// action.
type UnknownActionError struct {
	Name      string
	Available []string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q\nAvailable actions: %v", e.Name, e.Available)
}

// Solver submits a gathered bundle for optimization.
type Solver interface {
	Solve(ctx context.Context, bundle tabular.Bundle) ([]tabular.Dataset, error)
}

// Engine moves bundles between the catalog and the relational store.
type Engine interface {
	Persist(ctx context.Context, schema string, bundle tabular.Bundle, overwrite bool) error
	Load(ctx context.Context, schema string) (tabular.Bundle, error)
}

// Info describes one registered action.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Config tunes dispatcher behavior. Shutdown is invoked after
// GraceDelay when the shutdown action runs; the delay exists so the
// confirmation result is delivered before teardown begins.
type Config struct {
	GraceDelay time.Duration
	Shutdown   func()
}

type handlerFunc func(ctx context.Context, fields map[string]string) ([][]byte, error)

type action struct {
	info Info
	run  handlerFunc
}

// Dispatcher routes named actions to their handlers. It is safe for
// concurrent use.
type Dispatcher struct {
	catalog catalog.Catalog
	solver  Solver
	engine  Engine
	logger  *slog.Logger
	grace   time.Duration
	stop    func()

	actions map[string]action
	order   []string
}

// New creates a dispatcher over the given collaborators. A nil logger
// discards; a zero grace delay defaults to two seconds.
func New(cat catalog.Catalog, sv Solver, eng Engine, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = 2 * time.Second
	}
	if cfg.Shutdown == nil {
		cfg.Shutdown = func() {}
	}

	d := &Dispatcher{
		catalog: cat,
		solver:  sv,
		engine:  eng,
		logger:  logger,
		grace:   cfg.GraceDelay,
		stop:    cfg.Shutdown,
		actions: make(map[string]action),
	}
	d.register("clear", "Clear the stored tables.", d.clear)
	d.register("shutdown", "Shut down this server.", d.shutdown)
	d.register("optimize", "Optimize the data for a given schema using a given solver.", d.optimize)
	d.register("persist", "Persist the data for a given schema to storage.", d.persist)
	d.register("load", "Load and restore data for a given schema from storage.", d.load)
	return d
}

func (d *Dispatcher) register(name, description string, run handlerFunc) {
	d.actions[name] = action{info: Info{Name: name, Description: description}, run: run}
	d.order = append(d.order, name)
}

// Actions returns the registered actions in registration order.
func (d *Dispatcher) Actions() []Info {
	out := make([]Info, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.actions[name].info)
	}
	return out
}

// Dispatch runs one named action with the given raw payload and
// returns its result units in order. An unregistered name returns an
// UnknownActionError; everything else an action-level error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload []byte) ([][]byte, error) {
	act, ok := d.actions[name]
	if !ok {
		return nil, &UnknownActionError{Name: name, Available: d.order}
	}
	fields, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	d.logger.Info("dispatching action", slog.String("action", name))
	return act.run(ctx, fields)
}

// decodePayload parses the flat JSON payload. An empty body is an
// empty field set; non-string values or trailing garbage fail.
func decodePayload(raw []byte) (map[string]string, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]string{}, nil
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}

// required fetches a field that must be present and non-empty.
func required(fields map[string]string, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing required field %q", ErrParse, key)
	}
	return v, nil
}

// lookup fetches a field that must be present but may be empty.
func lookup(fields map[string]string, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrParse, key)
	}
	return v, nil
}

// gatherBundle collects every catalog entry uploaded under the schema:
// command keys of the exact form "<schema>:<field>" with a non-empty
// field. The scan is not isolated from concurrent uploads.
func (d *Dispatcher) gatherBundle(schema string) (tabular.Bundle, error) {
	prefix := schema + ":"
	bundle := make(tabular.Bundle)
	for _, entry := range d.catalog.List() {
		if entry.Key.Kind() != catalog.KindCommand {
			continue
		}
		field, ok := strings.CutPrefix(entry.Key.Command(), prefix)
		if !ok || field == "" {
			continue
		}
		bundle[field] = entry.Dataset
	}
	if len(bundle) == 0 {
		return nil, fmt.Errorf("%w for schema %s", ErrNoData, schema)
	}
	return bundle, nil
}

func (d *Dispatcher) clear(_ context.Context, _ map[string]string) ([][]byte, error) {
	n := d.catalog.Clear()
	d.logger.Info("catalog cleared", slog.Int("tables", n))
	return [][]byte{[]byte("All tables cleared!")}, nil
}

// shutdown confirms first and stops on a background path after the
// grace delay, so the confirmation is delivered before teardown.
func (d *Dispatcher) shutdown(_ context.Context, _ map[string]string) ([][]byte, error) {
	d.logger.Info("shutdown requested", slog.Duration("grace", d.grace))
	go func() {
		time.Sleep(d.grace)
		d.stop()
	}()
	return [][]byte{[]byte("Shutdown!")}, nil
}

func (d *Dispatcher) optimize(ctx context.Context, fields map[string]string) ([][]byte, error) {
	schema, err := required(fields, "schema_name")
	if err != nil {
		return nil, err
	}
	solverName, err := lookup(fields, "solver_name")
	if err != nil {
		return nil, err
	}
	// Solver parameters are an opaque string passed through unchanged.
	solverParams, err := lookup(fields, "solver_params")
	if err != nil {
		return nil, err
	}

	bundle, err := d.gatherBundle(schema)
	if err != nil {
		return nil, err
	}

	solverDS, err := tabular.Build(nil,
		tabular.Col{Name: "solver_name", Values: []string{solverName}},
		tabular.Col{Name: "solver_params", Values: []string{solverParams}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build solver table: %w", err)
	}
	bundle[solver.FieldSolver] = solverDS

	results, err := d.solver.Solve(ctx, bundle)
	if err != nil {
		return nil, err
	}
	if len(results) != 2 {
		return nil, fmt.Errorf("expected 2 result tables from solver, got %d", len(results))
	}

	out := make([][]byte, 0, len(results))
	for _, ds := range results {
		buf, err := tabular.Marshal(ds)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result table: %w", err)
		}
		out = append(out, buf)
	}
	d.logger.Info("optimization complete", slog.String("schema", schema))
	return out, nil
}

func (d *Dispatcher) persist(ctx context.Context, fields map[string]string) ([][]byte, error) {
	schema, err := required(fields, "schema_name")
	if err != nil {
		return nil, err
	}
	rawOverwrite, err := lookup(fields, "to_overwrite")
	if err != nil {
		return nil, err
	}
	overwrite := rawOverwrite == "true"

	bundle, err := d.gatherBundle(schema)
	if err != nil {
		return nil, err
	}
	if err := d.engine.Persist(ctx, schema, bundle, overwrite); err != nil {
		return nil, fmt.Errorf("data persistence failed: %w", err)
	}
	return [][]byte{[]byte("Data persisted successfully!")}, nil
}

// load restores a schema into the catalog. A successful load yields no
// result units; the re-uploaded tables are the observable effect.
func (d *Dispatcher) load(ctx context.Context, fields map[string]string) ([][]byte, error) {
	schema, err := required(fields, "schema_name")
	if err != nil {
		return nil, err
	}

	bundle, err := d.engine.Load(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("data loading failed: %w", err)
	}
	if len(bundle) == 0 {
		return nil, fmt.Errorf("%w for schema %s", ErrNoData, schema)
	}

	for field, ds := range bundle {
		d.catalog.Put(catalog.KeyForCommand(schema+":"+field), ds)
	}
	d.logger.Info("schema restored into catalog",
		slog.String("schema", schema),
		slog.Int("tables", len(bundle)))
	return nil, nil
}
