package persist

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
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

func matrixDS(t *testing.T, md map[string]string, left, right []float64) tabular.Dataset {
	t.Helper()
	ds, err := tabular.Build(md,
		tabular.Col{Name: "c0", Values: left},
		tabular.Col{Name: "c1", Values: right},
	)
	require.NoError(t, err)
	return ds
}

func relationNames(rels []Relation) []string {
	names := make([]string, len(rels))
	for i, rel := range rels {
		names[i] = rel.Name
	}
	return names
}

func columnNames(ds tabular.Dataset) []string {
	names := make([]string, ds.NumCols())
	for i := range names {
		names[i] = ds.ColumnName(i)
	}
	return names
}

func modelBundle(t *testing.T) tabular.Bundle {
	t.Helper()
	return tabular.Bundle{
		"rxns":      named(t, "rxns", []string{"r1", "r2", "r3"}),
		"lb":        named(t, "lb", []float64{-10, 0, 0}),
		"ub":        named(t, "ub", []float64{10, 10, 10}),
		"c":         named(t, "c", []float64{1, 0, 0}),
		"mets":      named(t, "mets", []string{"m1", "m2"}),
		"b":         named(t, "b", []float64{0, 0}),
		"csense":    named(t, "csense", []string{"EL"}),
		"osenseStr": named(t, "osenseStr", []string{"max"}),
		"S": matrixDS(t,
			map[string]string{tabular.MetaName: "S"},
			[]float64{1, -1}, []float64{0, 1}),
	}
}

func TestCategorize_FoldsModelBundle(t *testing.T) {
	rels, err := Categorize(DefaultDictionary(), modelBundle(t))
	require.NoError(t, err)
	require.Equal(t, []string{"S", "model", "species", "reactions"}, relationNames(rels))

	// Matrix passes through untouched.
	assert.Equal(t, int64(2), rels[0].Dataset.NumCols())
	assert.Equal(t, int64(2), rels[0].Dataset.NumRows())
	name, ok := rels[0].Dataset.FieldName()
	require.True(t, ok)
	assert.Equal(t, "S", name)

	model := rels[1].Dataset
	assert.Equal(t, []string{"objective"}, columnNames(model))
	obj, err := model.StringColumn(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"max"}, obj)

	species := rels[2].Dataset
	assert.Equal(t, []string{"id", "coefficient", "flux_bound_operation"}, columnNames(species))
	ops, err := species.StringColumn(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"E", "L"}, ops, "csense should be exploded to one row per character")

	reactions := rels[3].Dataset
	assert.Equal(t, []string{"id", "lower_flux_bound", "upper_flux_bound", "coefficient"}, columnNames(reactions))
	assert.Equal(t, int64(3), reactions.NumRows())

	// Folded tables carry each source dataset's metadata per column.
	raw, ok := reactions.MetadataValue(tabular.MetaColumnComments)
	require.True(t, ok)
	var comments map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &comments))
	assert.Equal(t, "rxns", comments["id"][tabular.MetaName])
	assert.Equal(t, "lb", comments["lower_flux_bound"][tabular.MetaName])
}

func TestCategorize_MatrixTableNameOverride(t *testing.T) {
	bundle := tabular.Bundle{
		"C": matrixDS(t,
			map[string]string{tabular.MetaName: "C", tabular.MetaTableName: "coupling"},
			[]float64{1}, []float64{2}),
	}
	rels, err := Categorize(DefaultDictionary(), bundle)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "coupling", rels[0].Name)
}

func TestCategorize_UnclaimedByRowCount(t *testing.T) {
	bundle := tabular.Bundle{
		"rxns":     named(t, "rxns", []string{"r1", "r2", "r3"}),
		"rxnColor": named(t, "rxnColor", []string{"red", "green", "blue"}),
		"pvals":    named(t, "pvals", []float64{1, 2, 3, 4, 5}),
	}
	rels, err := Categorize(DefaultDictionary(), bundle)
	require.NoError(t, err)
	require.Equal(t, []string{"reactions", "pvals"}, relationNames(rels))

	// Unmapped fields of matching length join the category under their
	// own field name.
	assert.Equal(t, []string{"id", "rxnColor"}, columnNames(rels[0].Dataset))
	assert.Equal(t, []string{"pvals"}, columnNames(rels[1].Dataset))
	assert.Equal(t, int64(5), rels[1].Dataset.NumRows())
}

func TestCategorize_EqualLengthSingletonsStaySeparate(t *testing.T) {
	bundle := tabular.Bundle{
		"alpha": named(t, "alpha", []float64{1, 2, 3, 4}),
		"beta":  named(t, "beta", []float64{5, 6, 7, 8}),
	}
	rels, err := Categorize(DefaultDictionary(), bundle)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, relationNames(rels))
	assert.Equal(t, []string{"alpha"}, columnNames(rels[0].Dataset))
	assert.Equal(t, []string{"beta"}, columnNames(rels[1].Dataset))
}

func TestCategorize_ExplodeEmptyString(t *testing.T) {
	bundle := tabular.Bundle{
		"csense": named(t, "csense", []string{""}),
	}
	rels, err := Categorize(DefaultDictionary(), bundle)
	require.NoError(t, err)
	require.Equal(t, []string{"species"}, relationNames(rels))
	assert.Equal(t, int64(0), rels[0].Dataset.NumRows())
}

func TestCategorize_EmptyBundle(t *testing.T) {
	rels, err := Categorize(DefaultDictionary(), tabular.Bundle{})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestCategorize_Errors(t *testing.T) {
	noMeta := func(t *testing.T, col string, values any) tabular.Dataset {
		t.Helper()
		ds, err := tabular.Build(nil, tabular.Col{Name: col, Values: values})
		require.NoError(t, err)
		return ds
	}

	tests := []struct {
		name   string
		bundle tabular.Bundle
		errMsg string
	}{
		{
			name: "matrix without table name",
			bundle: tabular.Bundle{
				"S": matrixDS(t, nil, []float64{1}, []float64{2}),
			},
			errMsg: "has no table name metadata",
		},
		{
			name: "vector without name",
			bundle: tabular.Bundle{
				"x": noMeta(t, "x", []float64{1}),
			},
			errMsg: "has no name metadata",
		},
		{
			name: "explode field with multiple rows",
			bundle: tabular.Bundle{
				"csense": named(t, "csense", []string{"E", "L"}),
			},
			errMsg: `explode field "csense" has 2 rows, want 1`,
		},
		{
			name: "explode field not string typed",
			bundle: tabular.Bundle{
				"csense": named(t, "csense", []int64{1}),
			},
			errMsg: "not string",
		},
		{
			name: "conflicting fields for one column",
			bundle: tabular.Bundle{
				"osense":    named(t, "osense", []string{"-1"}),
				"osenseStr": named(t, "osenseStr", []string{"max"}),
			},
			errMsg: `fields "osense" and "osenseStr" both map to column "objective"`,
		},
		{
			name: "matrix table name collision",
			bundle: tabular.Bundle{
				"S1": matrixDS(t, map[string]string{tabular.MetaName: "S"}, []float64{1}, []float64{2}),
				"S2": matrixDS(t, map[string]string{tabular.MetaName: "S"}, []float64{3}, []float64{4}),
			},
			errMsg: `both map to table "S"`,
		},
		{
			name: "matrix collides with category table",
			bundle: tabular.Bundle{
				"Smat": matrixDS(t, map[string]string{tabular.MetaName: "reactions"}, []float64{1}, []float64{2}),
				"rxns": named(t, "rxns", []string{"r1"}),
			},
			errMsg: `category "reactions" collides with table from dataset "Smat"`,
		},
		{
			name: "unmapped field shadows a sized category",
			bundle: tabular.Bundle{
				"rxns":      named(t, "rxns", []string{"r1", "r2", "r3"}),
				"reactions": named(t, "reactions", []float64{1, 2, 3, 4, 5}),
			},
			errMsg: `dataset "reactions" would shadow category "reactions"`,
		},
		{
			name: "mismatched lengths within a category",
			bundle: tabular.Bundle{
				"rxns": named(t, "rxns", []string{"r1", "r2", "r3"}),
				"lb":   named(t, "lb", []float64{-10, 0}),
			},
			errMsg: "rows, want",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Categorize(DefaultDictionary(), tt.bundle)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCategorize_Deterministic(t *testing.T) {
	first, err := Categorize(DefaultDictionary(), modelBundle(t))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Categorize(DefaultDictionary(), modelBundle(t))
		require.NoError(t, err)
		assert.Equal(t, relationNames(first), relationNames(again))
	}
}

func TestDictionary_RejoinColumns(t *testing.T) {
	cols := DefaultDictionary().RejoinColumns()
	assert.Equal(t, map[string]bool{"flux_bound_operation": true}, cols)
}
