package normalizer

import (
	"strings"

	"agrirag/internal/domain"
)

// Field maps a known column to a labelled statement. UnitColumn, when set,
// names the column whose value is appended as a unit suffix.
type Field struct {
	Column     string `yaml:"column"`
	Label      string `yaml:"label"`
	UnitColumn string `yaml:"unit_column,omitempty"`
}

// Policy controls how rows become units. Fields are rendered in order.
type Policy struct {
	Fields       []Field  `yaml:"fields"`
	MetadataKeys []string `yaml:"metadata_keys"`
	Separator    string   `yaml:"separator"`
}

// DefaultSeparator joins statements in a unit's text.
const DefaultSeparator = ", "

// DefaultPolicy returns the agricultural market-price schema.
func DefaultPolicy() Policy {
	return Policy{
		Fields: []Field{
			{Column: "display_name", Label: "Commodity"},
			{Column: "category", Label: "Category"},
			{Column: "variety", Label: "Variety"},
			{Column: "market_name", Label: "Market"},
			{Column: "district_name", Label: "District"},
			{Column: "state_name", Label: "State"},
			{Column: "arrival_date", Label: "Date"},
			{Column: "min_price", Label: "Min Price", UnitColumn: "price_unit"},
			{Column: "max_price", Label: "Max Price", UnitColumn: "price_unit"},
			{Column: "modal_price", Label: "Modal Price", UnitColumn: "price_unit"},
			{Column: "arrival_quantity", Label: "Arrivals", UnitColumn: "arrival_unit"},
		},
		MetadataKeys: []string{
			"category", "state_name", "district_name", "market_name",
			"variety", "latitude", "longitude", "display_name",
		},
		Separator: DefaultSeparator,
	}
}

// Validate checks that the policy can produce deterministic text.
func (p Policy) Validate() error {
	if len(p.Fields) == 0 {
		return domain.Configurationf("normalizer policy has no fields")
	}
	seen := make(map[string]struct{}, len(p.Fields))
	for i, f := range p.Fields {
		if strings.TrimSpace(f.Column) == "" {
			return domain.Configurationf("normalizer field %d has no column", i)
		}
		if strings.TrimSpace(f.Label) == "" {
			return domain.Configurationf("normalizer field %q has no label", f.Column)
		}
		if _, dup := seen[f.Column]; dup {
			return domain.Configurationf("normalizer field %q listed twice", f.Column)
		}
		seen[f.Column] = struct{}{}
	}
	for _, k := range p.MetadataKeys {
		if k == MetaSource || k == MetaRow {
			return domain.Configurationf("metadata key %q is reserved for provenance", k)
		}
	}
	return nil
}

// Provenance metadata keys set by the ingestion pipeline.
const (
	MetaSource = "source"
	MetaRow    = "row"
)
