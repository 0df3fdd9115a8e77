// Package persist implements the bidirectional mapping between field
// keyed dataset bundles and relational schemas: single column datasets
// are folded into category tables on the way in and unfolded from
// table and column comments on the way out. The category dictionary is
// injected configuration so deployments can swap it without touching
// the engine.
package persist

import "slices"

// FieldMapping maps one source field to its relational column name.
type FieldMapping struct {
	Field  string
	Column string
}

// Category is one relational table the dictionary knows about, with
// its ordered field mappings.
type Category struct {
	Name   string
	Fields []FieldMapping
}

// Column returns the column a field maps to within this category.
func (c Category) Column(field string) (string, bool) {
	for _, fm := range c.Fields {
		if fm.Field == field {
			return fm.Column, true
		}
	}
	return "", false
}

// Dictionary is the ordered category dictionary driving categorization.
// Category order is match precedence: when an unmapped dataset matches
// several categories by row count, the earliest wins.
type Dictionary struct {
	Categories []Category

	// ExplodeFields are single row string fields holding one character
	// per logical entity. They are exploded to one row per character
	// before any row counting.
	ExplodeFields []string
}

// IsExplodeField reports whether field is exploded before sizing.
func (d *Dictionary) IsExplodeField(field string) bool {
	return slices.Contains(d.ExplodeFields, field)
}

// RejoinColumns returns the relational column names that explode
// fields map to. On load these columns are folded back into a single
// row string by concatenating rows in order.
func (d *Dictionary) RejoinColumns() map[string]bool {
	out := make(map[string]bool)
	for _, cat := range d.Categories {
		for _, fm := range cat.Fields {
			if d.IsExplodeField(fm.Field) {
				out[fm.Column] = true
			}
		}
	}
	return out
}

// DefaultDictionary returns the built-in mapping for constraint-based
// metabolic models: COBRA-style field names grouped into normalized
// relational tables.
func DefaultDictionary() *Dictionary {
	return &Dictionary{
		ExplodeFields: []string{"csense", "dsense"},
		Categories: []Category{
			{
				Name: "model",
				Fields: []FieldMapping{
					{"osense", "objective"},
					{"osenseStr", "objective"},
					{"description", "description"},
					{"modelVersion", "version"},
					{"version", "version"},
					{"modelName", "name"},
					{"modelID", "model_id"}, // model_id to avoid name conflict with id
				},
			},
			{
				Name: "species",
				Fields: []FieldMapping{
					{"mets", "id"},
					{"b", "coefficient"},
					{"csense", "flux_bound_operation"},
					{"metCharges", "charge"},
					{"metFormulas", "chemical_formula"},
					{"metSmiles", "smile"},
					{"metNames", "name"},
					{"metNotes", "note"},
					{"metHMDBID", "hmdb"},
					{"metInChIString", "inchi"},
					{"metKEGGID", "kegg"},
					{"metChEBIID", "chebi"},
					{"metCHEBIID", "chebi"},
					{"metPubChemID", "pubchem"},
					{"metMetaNetXID", "metanetx"},
					{"metSEEDID", "seed"},
					{"metBiGGID", "bigg"},
					{"metBioCycID", "biocyc"},
					{"metEnviPathID", "envipath"},
					{"metLIPIDMAPSID", "lipidmaps"},
					{"metReactomeID", "reactome"},
					{"metSABIORKID", "sabiork"},
					{"metSLMID", "slm"},
					{"metSBOTerms", "sbo"},
				},
			},
			{
				Name: "additional_constraints",
				Fields: []FieldMapping{
					{"ctrs", "id"},
					{"d", "coefficient"},
					{"ctrNames", "name"},
					{"dsense", "flux_bound_operation"},
				},
			},
			{
				Name: "reactions",
				Fields: []FieldMapping{
					{"rxns", "id"},
					{"lb", "lower_flux_bound"},
					{"ub", "upper_flux_bound"},
					{"c", "coefficient"},
					{"rxnConfidenceScores", "confidence_score"},
					{"rxnNames", "name"},
					{"rxnNotes", "description"},
					{"rxnECNumbers", "ec_number"},
					{"rxnReferences", "reference"},
					{"rxnKEGGID", "kegg"},
					{"rxnKEGGPathways", "kegg_pathway"},
					{"rxnMetaNetXID", "metanetx"},
					{"rxnBRENDAID", "brenda"},
					{"rxnBioCycID", "biocyc"},
					{"rxnReactomeID", "reactome"},
					{"rxnSABIORKID", "sabio"},
					{"rxnSEEDID", "seed"},
					{"rxnRheaID", "rhea"},
					{"rxnBiGGID", "bigg"},
					{"rxnSBOTerms", "sbo"},
					{"subSystems", "subsystem"},
					{"rules", "rules"},
				},
			},
			{
				Name: "additional_variables",
				Fields: []FieldMapping{
					{"evars", "id"},
					{"evarlb", "lower_flux_bound"},
					{"evarub", "upper_flux_bound"},
					{"evarc", "coefficient"},
					{"evarNames", "name"},
				},
			},
			{
				Name: "compartments",
				Fields: []FieldMapping{
					{"comps", "id"},
					{"compNames", "name"},
				},
			},
			{
				Name: "genes",
				Fields: []FieldMapping{
					{"genes", "id"},
					{"geneNames", "name"},
					{"geneEntrezID", "entrez"},
					{"geneRefSeqID", "refseq"},
					{"geneUniprotID", "uniprot"},
					{"geneEcoGeneID", "ecogene"},
					{"geneKEGGID", "kegg"},
					{"geneHPRDID", "hprd"},
					{"geneASAPID", "asap"},
					{"geneCCDSID", "ccds"},
				},
			},
			{
				Name: "proteins",
				Fields: []FieldMapping{
					{"proteins", "id"},
					{"proteinNames", "name"},
					{"geneNCBIProteinID", "ncbi"},
				},
			},
		},
	}
}
