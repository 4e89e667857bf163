package etl

import (
	"fmt"
	"strings"

	"github.com/BartekS5/optistock/pkg/models"
)

// ValidateResource checks a resource description before a job is built from it.
func ValidateResource(r models.Resource) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("resource has no name")
	}
	if !strings.HasPrefix(r.Endpoint, "/") {
		return fmt.Errorf("resource %s: endpoint %q must start with '/'", r.Name, r.Endpoint)
	}
	if r.PageSize <= 0 || r.PageSize > MaxPageSize {
		return fmt.Errorf("resource %s: page size must be between 1 and %d, got %d", r.Name, MaxPageSize, r.PageSize)
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("resource %s: no fields", r.Name)
	}

	seen := make(map[string]struct{}, len(r.Fields))
	for _, f := range r.Fields {
		if f.Name == "" || f.Path == "" {
			return fmt.Errorf("resource %s: field with empty name or path", r.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("resource %s: duplicate field %q", r.Name, f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Scope {
		case "", models.ScopeParent:
		case models.ScopeItem:
			if !r.Explodes() {
				return fmt.Errorf("resource %s: item field %q but no line-item path", r.Name, f.Name)
			}
		default:
			return fmt.Errorf("resource %s: field %q has unknown scope %q", r.Name, f.Name, f.Scope)
		}
	}
	return nil
}
