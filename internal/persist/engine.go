package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/fluxstack-labs/fluxgate/internal/store"
	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
)

var (
	// ErrSchemaExists is returned by Persist when the target schema
	// exists and overwrite was not requested.
	ErrSchemaExists = errors.New("schema already exists")

	// ErrSchemaNotFound is returned by Load when the schema is missing
	// or holds no tables.
	ErrSchemaNotFound = errors.New("schema does not exist or is empty")
)

// Engine persists bundles to a relational store and loads them back.
// Each call opens a fresh store session and closes it before
// returning; Persist runs inside a single transaction so a partially
// written schema is never observable.
type Engine struct {
	cfg    store.Config
	dict   *Dictionary
	logger *slog.Logger

	// openStore is swappable in tests.
	openStore func(ctx context.Context) (store.Store, error)
}

// NewEngine creates an engine for the given store config. A nil dict
// uses DefaultDictionary; a nil logger discards.
func NewEngine(cfg store.Config, dict *Dictionary, logger *slog.Logger) *Engine {
	if dict == nil {
		dict = DefaultDictionary()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{cfg: cfg, dict: dict, logger: logger}
	e.openStore = func(ctx context.Context) (store.Store, error) {
		st, err := store.New(e.cfg, e.logger)
		if err != nil {
			return nil, err
		}
		if err := st.Connect(ctx, e.cfg); err != nil {
			return nil, err
		}
		return st, nil
	}
	return e
}

// Dictionary returns the category dictionary the engine folds with.
func (e *Engine) Dictionary() *Dictionary { return e.dict }

// Persist categorizes the bundle and writes it as schema, one
// relational table per relation, with metadata attached as column or
// table comments. An existing schema is a conflict unless overwrite is
// set, in which case it is dropped and rebuilt. All mutations happen
// in one transaction: any failure rolls the whole write back.
func (e *Engine) Persist(ctx context.Context, schema string, bundle tabular.Bundle, overwrite bool) error {
	if len(bundle) == 0 {
		return fmt.Errorf("nothing to persist for schema %q", schema)
	}

	// Fold before touching the database so malformed bundles never
	// open a transaction.
	relations, err := Categorize(e.dict, bundle)
	if err != nil {
		return fmt.Errorf("failed to categorize bundle: %w", err)
	}

	st, err := e.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	exists, err := schemaExists(ctx, tx, st, schema)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return fmt.Errorf("%w: %q", ErrSchemaExists, schema)
	}

	e.logger.Info("persisting schema",
		slog.String("schema", schema),
		slog.Int("tables", len(relations)),
		slog.Bool("overwrite", overwrite))

	if err := tx.Exec(ctx, "DROP SCHEMA IF EXISTS "+store.QuoteIdent(schema)+" CASCADE"); err != nil {
		return err
	}
	if err := tx.Exec(ctx, "CREATE SCHEMA "+store.QuoteIdent(schema)); err != nil {
		return err
	}

	for _, rel := range relations {
		if err := createTable(ctx, tx, st, schema, rel); err != nil {
			return fmt.Errorf("failed to persist table %q: %w", rel.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Load reads a schema back into a bundle. Tables with a table-level
// comment are read whole under the comment's name; tables without one
// are category tables and unfold column by column through the column
// comments, rejoining exploded columns into their single row form.
func (e *Engine) Load(ctx context.Context, schema string) (tabular.Bundle, error) {
	st, err := e.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	tables, err := st.ListTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, schema)
	}

	e.logger.Info("loading schema", slog.String("schema", schema), slog.Int("tables", len(tables)))

	rejoin := e.dict.RejoinColumns()
	bundle := make(tabular.Bundle)
	for _, table := range tables {
		comment, ok, err := st.TableComment(ctx, schema, table)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := loadWholeTable(ctx, st, schema, table, comment, bundle); err != nil {
				return nil, fmt.Errorf("failed to load table %q: %w", table, err)
			}
			continue
		}
		if err := loadCategoryTable(ctx, st, schema, table, rejoin, bundle); err != nil {
			return nil, fmt.Errorf("failed to load table %q: %w", table, err)
		}
	}
	return bundle, nil
}

func schemaExists(ctx context.Context, tx store.Tx, st store.Store, schema string) (bool, error) {
	query := "SELECT schema_name FROM information_schema.schemata WHERE schema_name = " + st.Placeholder(1)
	rows, err := tx.Query(ctx, query, schema)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	exists := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error querying schemata: %w", err)
	}
	return exists, nil
}

func createTable(ctx context.Context, tx store.Tx, st store.Store, schema string, rel Relation) error {
	ds := rel.Dataset
	qualified := store.QuoteIdent(schema) + "." + store.QuoteIdent(rel.Name)

	defs := make([]string, ds.NumCols())
	for i := range defs {
		sqlType, err := sqlTypeFor(ds.Column(i).DataType())
		if err != nil {
			return fmt.Errorf("column %q: %w", ds.ColumnName(i), err)
		}
		defs[i] = store.QuoteIdent(ds.ColumnName(i)) + " " + sqlType
	}

	//nolint:gosec // identifiers are quoted via QuoteIdent
	create := fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(defs, ", "))
	if err := tx.Exec(ctx, create); err != nil {
		return err
	}
	if err := insertRows(ctx, tx, st, qualified, ds); err != nil {
		return err
	}
	return commentOn(ctx, tx, qualified, ds)
}

func insertRows(ctx context.Context, tx store.Tx, st store.Store, qualified string, ds tabular.Dataset) error {
	nrows, ncols := int(ds.NumRows()), int(ds.NumCols())
	if nrows == 0 {
		return nil
	}

	names := make([]string, ncols)
	placeholders := make([]string, ncols)
	for i := 0; i < ncols; i++ {
		names[i] = store.QuoteIdent(ds.ColumnName(i))
		placeholders[i] = st.Placeholder(i + 1)
	}
	//nolint:gosec // identifiers are quoted via QuoteIdent, values go through placeholders
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	args := make([]any, ncols)
	for r := 0; r < nrows; r++ {
		for c := 0; c < ncols; c++ {
			v, err := ds.Value(c, r)
			if err != nil {
				return err
			}
			args[c] = v
		}
		if err := tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", r, err)
		}
	}
	return nil
}

// commentOn attaches metadata: per-column comments for folded category
// tables, a single table comment holding the full metadata map for
// everything else.
func commentOn(ctx context.Context, tx store.Tx, qualified string, ds tabular.Dataset) error {
	raw, ok := ds.MetadataValue(tabular.MetaColumnComments)
	if ok {
		var comments map[string]map[string]string
		if err := json.Unmarshal([]byte(raw), &comments); err != nil {
			return fmt.Errorf("invalid column_comments metadata: %w", err)
		}
		for i := 0; i < int(ds.NumCols()); i++ {
			col := ds.ColumnName(i)
			md, ok := comments[col]
			if !ok {
				continue
			}
			enc, err := json.Marshal(md)
			if err != nil {
				return fmt.Errorf("failed to encode comment for column %q: %w", col, err)
			}
			//nolint:gosec // identifiers and literals are quoted
			stmt := fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
				qualified, store.QuoteIdent(col), store.QuoteLiteral(string(enc)))
			if err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}

	enc, err := json.Marshal(ds.Metadata())
	if err != nil {
		return fmt.Errorf("failed to encode table comment: %w", err)
	}
	//nolint:gosec // identifiers and literals are quoted
	stmt := fmt.Sprintf("COMMENT ON TABLE %s IS %s", qualified, store.QuoteLiteral(string(enc)))
	return tx.Exec(ctx, stmt)
}

func loadWholeTable(ctx context.Context, st store.Store, schema, table, comment string, bundle tabular.Bundle) error {
	md, err := commentToMap(comment)
	if err != nil {
		return err
	}
	field, ok := md[tabular.MetaName]
	if !ok {
		return fmt.Errorf("table comment has no name entry")
	}

	//nolint:gosec // identifiers are quoted via QuoteIdent
	query := fmt.Sprintf("SELECT * FROM %s.%s", store.QuoteIdent(schema), store.QuoteIdent(table))
	rows, err := st.Query(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	ds, err := datasetFromRows(rows, md)
	if err != nil {
		return err
	}
	bundle[field] = ds
	return nil
}

func loadCategoryTable(ctx context.Context, st store.Store, schema, table string, rejoin map[string]bool, bundle tabular.Bundle) error {
	comments, err := st.ColumnComments(ctx, schema, table)
	if err != nil {
		return err
	}
	for _, cc := range comments {
		if !cc.Valid {
			return fmt.Errorf("column %q has no comment", cc.Column)
		}
		md, err := commentToMap(cc.Comment)
		if err != nil {
			return fmt.Errorf("column %q: %w", cc.Column, err)
		}
		field, ok := md[tabular.MetaName]
		if !ok {
			return fmt.Errorf("column %q comment has no name entry", cc.Column)
		}

		var ds tabular.Dataset
		if rejoin[cc.Column] {
			ds, err = rejoinColumn(ctx, st, schema, table, cc.Column, field, md)
		} else {
			ds, err = readColumn(ctx, st, schema, table, cc.Column, field, md)
		}
		if err != nil {
			return fmt.Errorf("column %q: %w", cc.Column, err)
		}
		bundle[field] = ds
	}
	return nil
}

// rejoinColumn reads an exploded column and concatenates its rows back
// into the single row string form it was uploaded in.
func rejoinColumn(ctx context.Context, st store.Store, schema, table, column, field string, md map[string]string) (tabular.Dataset, error) {
	//nolint:gosec // identifiers are quoted via QuoteIdent
	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		store.QuoteIdent(column), store.QuoteIdent(schema), store.QuoteIdent(table))
	rows, err := st.Query(ctx, query)
	if err != nil {
		return tabular.Dataset{}, err
	}
	defer func() { _ = rows.Close() }()

	var sb strings.Builder
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return tabular.Dataset{}, fmt.Errorf("failed to scan row: %w", err)
		}
		sb.WriteString(v.String)
	}
	if err := rows.Err(); err != nil {
		return tabular.Dataset{}, fmt.Errorf("error iterating rows: %w", err)
	}
	return tabular.Build(md, tabular.Col{Name: field, Values: []string{sb.String()}})
}

func readColumn(ctx context.Context, st store.Store, schema, table, column, field string, md map[string]string) (tabular.Dataset, error) {
	// Alias back to the field name so the rebuilt dataset matches the
	// uploaded shape. Quoting also guards reserved words.
	//nolint:gosec // identifiers are quoted via QuoteIdent
	query := fmt.Sprintf("SELECT %s AS %s FROM %s.%s",
		store.QuoteIdent(column), store.QuoteIdent(field),
		store.QuoteIdent(schema), store.QuoteIdent(table))
	rows, err := st.Query(ctx, query)
	if err != nil {
		return tabular.Dataset{}, err
	}
	defer func() { _ = rows.Close() }()

	return datasetFromRows(rows, md)
}

func sqlTypeFor(dt arrow.DataType) (string, error) {
	switch dt.ID() {
	case arrow.STRING:
		return "VARCHAR", nil
	case arrow.INT64:
		return "BIGINT", nil
	case arrow.INT32:
		return "INTEGER", nil
	case arrow.FLOAT64:
		return "DOUBLE PRECISION", nil
	case arrow.BOOL:
		return "BOOLEAN", nil
	default:
		return "", fmt.Errorf("unsupported column type %s", dt.Name())
	}
}
