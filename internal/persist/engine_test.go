package persist

import (
	"context"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxstack-labs/fluxgate/internal/store"
	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
)

// fakeStore backs the engine with a sqlmock database. Catalog lookups
// come from canned values so tests only mock the SQL that actually
// reads or writes rows.
type fakeStore struct {
	store.BaseSQLStore

	tables        []string
	tableComments map[string]string
	colComments   map[string][]store.ColumnComment
}

var _ store.Store = (*fakeStore)(nil)

func (s *fakeStore) Connect(ctx context.Context, cfg store.Config) error { return nil }

func (s *fakeStore) SchemaExists(ctx context.Context, schema string) (bool, error) {
	return len(s.tables) > 0, nil
}

func (s *fakeStore) ListTables(ctx context.Context, schema string) ([]string, error) {
	return s.tables, nil
}

func (s *fakeStore) TableComment(ctx context.Context, schema, table string) (string, bool, error) {
	c, ok := s.tableComments[table]
	return c, ok, nil
}

func (s *fakeStore) ColumnComments(ctx context.Context, schema, table string) ([]store.ColumnComment, error) {
	return s.colComments[table], nil
}

func (s *fakeStore) Placeholder(n int) string { return "?" }

func mockEngine(t *testing.T, st *fakeStore) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	st.DB = db
	st.Logger = slog.New(slog.DiscardHandler)

	e := NewEngine(store.Config{Type: "duckdb", Path: ":memory:"}, nil, nil)
	e.openStore = func(ctx context.Context) (store.Store, error) { return st, nil }
	return e, mock
}

func exact(sql string) string { return regexp.QuoteMeta(sql) }

func TestEngine_Persist(t *testing.T) {
	e, mock := mockEngine(t, &fakeStore{})

	bundle := tabular.Bundle{
		"S": matrixDS(t,
			map[string]string{tabular.MetaName: "S"},
			[]float64{1}, []float64{2}),
		"osenseStr": named(t, "osenseStr", []string{"max"}),
		"flags":     named(t, "flags", []bool{true}),
		"counts":    named(t, "counts", []int64{7, 8, 9}),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT schema_name FROM information_schema.schemata").
		WithArgs("cobra").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}))
	mock.ExpectExec(exact(`DROP SCHEMA IF EXISTS "cobra" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`CREATE SCHEMA "cobra"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Matrix passthrough keeps its metadata in a table comment.
	mock.ExpectExec(exact(`CREATE TABLE "cobra"."S" ("c0" DOUBLE PRECISION, "c1" DOUBLE PRECISION)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`INSERT INTO "cobra"."S" ("c0", "c1") VALUES (?, ?)`)).
		WithArgs(1.0, 2.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(exact(`COMMENT ON TABLE "cobra"."S" IS '{"name":"S"}'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// flags has one row like osenseStr, so it joins the model category.
	mock.ExpectExec(exact(`CREATE TABLE "cobra"."model" ("objective" VARCHAR, "flags" BOOLEAN)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`INSERT INTO "cobra"."model" ("objective", "flags") VALUES (?, ?)`)).
		WithArgs("max", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(exact(`COMMENT ON COLUMN "cobra"."model"."objective" IS '{"name":"osenseStr"}'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`COMMENT ON COLUMN "cobra"."model"."flags" IS '{"name":"flags"}'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(exact(`CREATE TABLE "cobra"."counts" ("counts" BIGINT)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, v := range []int64{7, 8, 9} {
		mock.ExpectExec(exact(`INSERT INTO "cobra"."counts" ("counts") VALUES (?)`)).
			WithArgs(v).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(exact(`COMMENT ON COLUMN "cobra"."counts"."counts" IS '{"name":"counts"}'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectCommit()
	mock.ExpectClose()

	err := e.Persist(context.Background(), "cobra", bundle, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Persist_SchemaConflict(t *testing.T) {
	e, mock := mockEngine(t, &fakeStore{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT schema_name FROM information_schema.schemata").
		WithArgs("cobra").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("cobra"))
	mock.ExpectRollback()
	mock.ExpectClose()

	bundle := tabular.Bundle{"osenseStr": named(t, "osenseStr", []string{"max"})}
	err := e.Persist(context.Background(), "cobra", bundle, false)
	require.ErrorIs(t, err, ErrSchemaExists)
	assert.NoError(t, mock.ExpectationsWereMet(), "an existing schema must not be touched without overwrite")
}

func TestEngine_Persist_Overwrite(t *testing.T) {
	e, mock := mockEngine(t, &fakeStore{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT schema_name FROM information_schema.schemata").
		WithArgs("cobra").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("cobra"))
	mock.ExpectExec(exact(`DROP SCHEMA IF EXISTS "cobra" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`CREATE SCHEMA "cobra"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`CREATE TABLE "cobra"."model" ("objective" VARCHAR)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`INSERT INTO "cobra"."model" ("objective") VALUES (?)`)).
		WithArgs("max").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(exact(`COMMENT ON COLUMN "cobra"."model"."objective" IS '{"name":"osenseStr"}'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectClose()

	bundle := tabular.Bundle{"osenseStr": named(t, "osenseStr", []string{"max"})}
	err := e.Persist(context.Background(), "cobra", bundle, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Persist_RollbackOnError(t *testing.T) {
	e, mock := mockEngine(t, &fakeStore{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT schema_name FROM information_schema.schemata").
		WithArgs("cobra").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}))
	mock.ExpectExec(exact(`DROP SCHEMA IF EXISTS "cobra" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact(`CREATE SCHEMA "cobra"`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()
	mock.ExpectClose()

	bundle := tabular.Bundle{"osenseStr": named(t, "osenseStr", []string{"max"})}
	err := e.Persist(context.Background(), "cobra", bundle, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute SQL")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Persist_BadBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle tabular.Bundle
		errMsg string
	}{
		{
			name:   "empty bundle",
			bundle: tabular.Bundle{},
			errMsg: "nothing to persist",
		},
		{
			name: "categorization failure",
			bundle: tabular.Bundle{
				"csense": named(t, "csense", []string{"E", "L"}),
			},
			errMsg: "failed to categorize bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(store.Config{Type: "duckdb"}, nil, nil)
			e.openStore = func(ctx context.Context) (store.Store, error) {
				t.Fatal("store must not be opened for a bad bundle")
				return nil, nil
			}

			err := e.Persist(context.Background(), "cobra", tt.bundle, false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEngine_Load_WholeTable(t *testing.T) {
	st := &fakeStore{
		tables: []string{"results"},
		tableComments: map[string]string{
			"results": `{"name":"fluxes","table_name":"results"}`,
		},
	}
	e, mock := mockEngine(t, st)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("rxn").OfType("VARCHAR", ""),
		sqlmock.NewColumn("flux").OfType("DOUBLE", float64(0)),
	).
		AddRow("r1", 1.5).
		AddRow("r2", nil)
	mock.ExpectQuery(exact(`SELECT * FROM "mem"."results"`)).WillReturnRows(rows)
	mock.ExpectClose()

	bundle, err := e.Load(context.Background(), "mem")
	require.NoError(t, err)
	require.Len(t, bundle, 1)

	ds, ok := bundle["fluxes"]
	require.True(t, ok)
	assert.Equal(t, []string{"rxn", "flux"}, columnNames(ds))
	assert.Equal(t, int64(2), ds.NumRows())
	assert.Equal(t,
		map[string]string{"name": "fluxes", "table_name": "results"},
		ds.Metadata())

	v, err := ds.Value(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
	v, err = ds.Value(1, 1)
	require.NoError(t, err)
	assert.Nil(t, v, "NULL cells must survive the round trip")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Load_CategoryTable(t *testing.T) {
	st := &fakeStore{
		tables: []string{"species"},
		colComments: map[string][]store.ColumnComment{
			"species": {
				{Column: "id", Comment: `{"name":"mets"}`, Valid: true},
				{Column: "flux_bound_operation", Comment: `{"name":"csense"}`, Valid: true},
			},
		},
	}
	e, mock := mockEngine(t, st)

	idRows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("mets").OfType("VARCHAR", ""),
	).
		AddRow("m1").
		AddRow("m2")
	mock.ExpectQuery(exact(`SELECT "id" AS "mets" FROM "mem"."species"`)).WillReturnRows(idRows)

	opRows := sqlmock.NewRows([]string{"flux_bound_operation"}).
		AddRow("E").
		AddRow("L")
	mock.ExpectQuery(exact(`SELECT "flux_bound_operation" FROM "mem"."species"`)).WillReturnRows(opRows)
	mock.ExpectClose()

	bundle, err := e.Load(context.Background(), "mem")
	require.NoError(t, err)
	require.Len(t, bundle, 2)

	mets, ok := bundle["mets"]
	require.True(t, ok)
	vals, err := mets.StringColumn(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, vals)
	assert.Equal(t, map[string]string{"name": "mets"}, mets.Metadata())

	// Exploded columns come back as the original single row string.
	csense, ok := bundle["csense"]
	require.True(t, ok)
	assert.Equal(t, int64(1), csense.NumRows())
	vals, err = csense.StringColumn(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"EL"}, vals)
	assert.Equal(t, map[string]string{"name": "csense"}, csense.Metadata())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Load_Errors(t *testing.T) {
	tests := []struct {
		name      string
		st        *fakeStore
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		errMsg    string
	}{
		{
			name:    "schema missing or empty",
			st:      &fakeStore{},
			wantErr: ErrSchemaNotFound,
		},
		{
			name: "table comment not JSON",
			st: &fakeStore{
				tables:        []string{"results"},
				tableComments: map[string]string{"results": "not json"},
			},
			errMsg: "comment is not a JSON object",
		},
		{
			name: "table comment without name",
			st: &fakeStore{
				tables:        []string{"results"},
				tableComments: map[string]string{"results": `{"units":"mmol"}`},
			},
			errMsg: "no name entry",
		},
		{
			name: "column without comment",
			st: &fakeStore{
				tables: []string{"species"},
				colComments: map[string][]store.ColumnComment{
					"species": {{Column: "id", Valid: false}},
				},
			},
			errMsg: `column "id" has no comment`,
		},
		{
			name: "unsupported column type",
			st: &fakeStore{
				tables:        []string{"results"},
				tableComments: map[string]string{"results": `{"name":"fluxes"}`},
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRowsWithColumnDefinition(
					sqlmock.NewColumn("blob").OfType("JSON", ""),
				)
				mock.ExpectQuery("SELECT").WillReturnRows(rows)
			},
			errMsg: `unsupported database type "JSON"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := mockEngine(t, tt.st)
			if tt.setupMock != nil {
				tt.setupMock(mock)
			}
			mock.ExpectClose()

			_, err := e.Load(context.Background(), "mem")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
