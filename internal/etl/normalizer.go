package etl

import (
	"strconv"
	"strings"

	"github.com/BartekS5/optistock/pkg/models"
)

// Normalizer flattens raw records into rows with the resource's fixed field set.
// Missing fields become NULL and unknown fields are dropped; the number of NULLs
// produced is kept so callers can report it.
type Normalizer struct {
	Resource models.Resource
	nulled   int
}

func NewNormalizer(resource models.Resource) *Normalizer {
	return &Normalizer{Resource: resource}
}

// Normalize maps one record to zero or more rows. Line-item resources yield one row
// per line item, in upstream order, with the parent fields copied onto each row.
func (n *Normalizer) Normalize(raw Record) []Row {
	if !n.Resource.Explodes() {
		row := make(Row, len(n.Resource.Fields))
		for i, f := range n.Resource.Fields {
			row[i] = n.value(raw, f.Path)
		}
		return []Row{row}
	}

	items, listed := n.lineItems(raw)
	if len(items) == 0 {
		// An explicit empty list means nothing moved; only a record without one keeps its parent row.
		if listed || !n.Resource.KeepEmptyParent {
			return nil
		}
		items = []interface{}{nil}
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		row := make(Row, len(n.Resource.Fields))
		for i, f := range n.Resource.Fields {
			if f.Scope == models.ScopeItem {
				row[i] = n.value(item, f.Path)
			} else {
				row[i] = n.value(raw, f.Path)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// TakeNulled returns the NULL count accumulated since the previous call.
func (n *Normalizer) TakeNulled() int {
	c := n.nulled
	n.nulled = 0
	return c
}

func (n *Normalizer) value(src interface{}, path string) interface{} {
	v := lookup(src, path)
	if v == nil {
		n.nulled++
	}
	return v
}

// lineItems returns the first non-empty line-item list. listed reports whether any
// candidate path held a list at all.
func (n *Normalizer) lineItems(raw Record) (items []interface{}, listed bool) {
	for _, path := range n.Resource.LineItems {
		if list, ok := lookup(raw, path).([]interface{}); ok {
			if len(list) > 0 {
				return list, true
			}
			listed = true
		}
	}
	return nil, listed
}

// lookup walks a dotted path through nested objects and arrays.
func lookup(src interface{}, path string) interface{} {
	cur := src
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}
