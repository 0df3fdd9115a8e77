package persist

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
)

// Relation is one relational-ready output table produced by Categorize:
// either a matrix dataset passed through untouched or a category table
// folded from single column datasets.
type Relation struct {
	Name    string
	Dataset tabular.Dataset
}

// Categorize folds a bundle into the relational tables to persist.
// The result order is deterministic for a fixed bundle: matrices in
// sorted field order, then dictionary categories in dictionary order,
// then singleton categories in creation order.
//
// Every dataset must declare its identity in metadata: matrices need a
// table name, vectors need a field name. Explode fields are expanded
// to one row per character before any row counting, so their exploded
// length is what category matching sees.
//
// Matching an unmapped vector to a dictionary category by row count
// alone is a heuristic: two unrelated fields of equal length can land
// in the same category table. First match in dictionary order wins.
// Fields that need a guaranteed home belong in the dictionary.
func Categorize(dict *Dictionary, bundle tabular.Bundle) ([]Relation, error) {
	var out []Relation
	vectors := make(map[string]tabular.Dataset)
	taken := make(map[string]string)

	fields := make([]string, 0, len(bundle))
	for f := range bundle {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		ds := bundle[field]

		// Matrix datasets pass through under their table name.
		if ds.NumCols() > 1 {
			name, ok := ds.TableName()
			if !ok {
				return nil, fmt.Errorf("matrix dataset %q has no table name metadata", field)
			}
			if prev, dup := taken[name]; dup {
				return nil, fmt.Errorf("datasets %q and %q both map to table %q", prev, field, name)
			}
			taken[name] = field
			out = append(out, Relation{Name: name, Dataset: ds})
			continue
		}

		if _, ok := ds.FieldName(); !ok {
			return nil, fmt.Errorf("dataset %q has no name metadata", field)
		}
		if dict.IsExplodeField(field) {
			exploded, err := explode(field, ds)
			if err != nil {
				return nil, err
			}
			ds = exploded
		}
		vectors[field] = ds
	}

	// Row counts for categories referenced by known fields. Matching
	// precedence is dictionary order, then singleton creation order.
	var (
		order   []string
		rows    = make(map[string]int64)
		static  = make(map[string]bool)
		claimed = make(map[string]bool)
	)
	for _, cat := range dict.Categories {
		for _, fm := range cat.Fields {
			ds, ok := vectors[fm.Field]
			if !ok {
				continue
			}
			if _, sized := rows[cat.Name]; !sized {
				order = append(order, cat.Name)
			}
			rows[cat.Name] = ds.NumRows()
			static[cat.Name] = true
			claimed[fm.Field] = true
		}
	}

	// Unclaimed vectors join an existing category by row count or
	// become their own singleton category. A singleton only absorbs a
	// dataset with the identical field name, so two unrelated fields
	// of equal length never merge.
	extras := make(map[string][]FieldMapping)
	singles := make(map[string][]FieldMapping)
	var singletons []string
	for _, field := range fields {
		ds, ok := vectors[field]
		if !ok || claimed[field] {
			continue
		}
		n := ds.NumRows()
		matched := false
		for _, name := range order {
			if rows[name] != n {
				continue
			}
			if !static[name] && name != field {
				continue
			}
			if static[name] {
				extras[name] = append(extras[name], FieldMapping{Field: field, Column: field})
			} else {
				singles[name] = append(singles[name], FieldMapping{Field: field, Column: field})
			}
			matched = true
			break
		}
		if !matched {
			if _, sized := rows[field]; sized {
				return nil, fmt.Errorf("dataset %q would shadow category %q", field, field)
			}
			order = append(order, field)
			rows[field] = n
			singletons = append(singletons, field)
			singles[field] = []FieldMapping{{Field: field, Column: field}}
		}
	}

	for _, cat := range dict.Categories {
		mappings := make([]FieldMapping, 0, len(cat.Fields)+len(extras[cat.Name]))
		mappings = append(mappings, cat.Fields...)
		mappings = append(mappings, extras[cat.Name]...)
		rel, n, err := fold(cat.Name, mappings, vectors)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if prev, dup := taken[cat.Name]; dup {
			return nil, fmt.Errorf("category %q collides with table from dataset %q", cat.Name, prev)
		}
		taken[cat.Name] = cat.Name
		out = append(out, rel)
	}
	for _, name := range singletons {
		rel, n, err := fold(name, singles[name], vectors)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if prev, dup := taken[name]; dup {
			return nil, fmt.Errorf("category %q collides with table from dataset %q", name, prev)
		}
		taken[name] = name
		out = append(out, rel)
	}
	return out, nil
}

// explode turns a single row string dataset into one row per character.
// The original metadata is preserved.
func explode(field string, ds tabular.Dataset) (tabular.Dataset, error) {
	if ds.NumRows() != 1 {
		return tabular.Dataset{}, fmt.Errorf("explode field %q has %d rows, want 1", field, ds.NumRows())
	}
	vals, err := ds.StringColumn(0)
	if err != nil {
		return tabular.Dataset{}, fmt.Errorf("explode field %q: %w", field, err)
	}
	chars := make([]string, 0, len(vals[0]))
	for _, r := range vals[0] {
		chars = append(chars, string(r))
	}
	out, err := tabular.Build(ds.Metadata(), tabular.Col{Name: field, Values: chars})
	if err != nil {
		return tabular.Dataset{}, fmt.Errorf("explode field %q: %w", field, err)
	}
	return out, nil
}

// fold assembles one category table from the vectors matched by the
// mapping. Each output column carries its source dataset's metadata in
// the column_comments JSON. The returned count is how many fields
// matched; zero means the category produced nothing.
func fold(name string, mappings []FieldMapping, vectors map[string]tabular.Dataset) (Relation, int, error) {
	var (
		names    []string
		cols     []arrow.Array
		comments = make(map[string]map[string]string)
		fieldOf  = make(map[string]string)
	)
	for _, fm := range mappings {
		ds, ok := vectors[fm.Field]
		if !ok {
			continue
		}
		if prev, dup := fieldOf[fm.Column]; dup {
			return Relation{}, 0, fmt.Errorf("category %q: fields %q and %q both map to column %q",
				name, prev, fm.Field, fm.Column)
		}
		fieldOf[fm.Column] = fm.Field
		names = append(names, fm.Column)
		cols = append(cols, ds.Column(0))
		comments[fm.Column] = ds.Metadata()
	}
	if len(cols) == 0 {
		return Relation{}, 0, nil
	}

	raw, err := json.Marshal(comments)
	if err != nil {
		return Relation{}, 0, fmt.Errorf("category %q: failed to encode column comments: %w", name, err)
	}
	ds, err := tabular.FromArrays(map[string]string{tabular.MetaColumnComments: string(raw)}, names, cols)
	if err != nil {
		return Relation{}, 0, fmt.Errorf("category %q: %w", name, err)
	}
	return Relation{Name: name, Dataset: ds}, len(cols), nil
}
