package models

// FieldScope says where a field's value is read from when a record fans out into line items.
type FieldScope string

const (
	ScopeParent FieldScope = "parent"
	ScopeItem   FieldScope = "item"
)

// FieldSpec maps one output column to a dotted path in the upstream record.
// Numeric path segments index into arrays ("images.0.url").
type FieldSpec struct {
	Name  string     `json:"name" mapstructure:"name"`
	Path  string     `json:"path" mapstructure:"path"`
	Scope FieldScope `json:"scope,omitempty" mapstructure:"scope"`
}

// Resource is the static description of one upstream collection.
type Resource struct {
	Name       string            `json:"name" mapstructure:"name"`
	Endpoint   string            `json:"endpoint" mapstructure:"endpoint"`
	PageSize   int               `json:"pageSize" mapstructure:"page_size"`
	Params     map[string]string `json:"params,omitempty" mapstructure:"params"`
	OutputFile string            `json:"outputFile" mapstructure:"output_file"`
	Fields     []FieldSpec       `json:"fields" mapstructure:"fields"`
	// LineItems lists candidate paths of the embedded line-item array; the first
	// non-empty one wins. Empty means one row per record.
	LineItems []string `json:"lineItems,omitempty" mapstructure:"line_items"`
	// KeepEmptyParent emits a single row with null item fields when a record carries no
	// line-item list. An explicit empty list still yields no rows.
	KeepEmptyParent bool `json:"keepEmptyParent,omitempty" mapstructure:"keep_empty_parent"`
}

// FieldNames returns the ordered column names of the resource.
func (r Resource) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Explodes reports whether one record may produce several rows.
func (r Resource) Explodes() bool {
	return len(r.LineItems) > 0
}

// MappingEntry routes one dataset file to one warehouse table.
type MappingEntry struct {
	File  string `json:"file" mapstructure:"file"`
	Table string `json:"table" mapstructure:"table"`
	Mode  string `json:"mode" mapstructure:"mode"`
}
