package etl

import (
	"fmt"
	"sort"

	"github.com/BartekS5/optistock/pkg/models"
)

// MaxPageSize is the largest page the upstream API serves. A larger limit still yields
// pages of this size, which would read as a short final page.
const MaxPageSize = 30

const DefaultPageSize = MaxPageSize

func parent(name, path string) models.FieldSpec {
	return models.FieldSpec{Name: name, Path: path, Scope: models.ScopeParent}
}

func item(name, path string) models.FieldSpec {
	return models.FieldSpec{Name: name, Path: path, Scope: models.ScopeItem}
}

// resourceOrder is the order used by "extract --all".
var resourceOrder = []string{"items", "invoices", "purchase-orders", "warehouse-transfers", "warehouse-items"}

// Catalogue returns a fresh copy of the built-in resource descriptions, keyed by name.
func Catalogue() map[string]models.Resource {
	return map[string]models.Resource{
		"items": {
			Name:       "items",
			Endpoint:   "/items",
			PageSize:   DefaultPageSize,
			OutputFile: "items_inventory.csv",
			Fields: []models.FieldSpec{
				parent("id", "id"),
				parent("name", "name"),
				parent("initial_quantity", "inventory.initialQuantity"),
				parent("initial_quantity_date", "inventory.initialQuantityDate"),
				parent("final_available_quantity", "inventory.availableQuantity"),
				parent("photo_url", "images.0.url"),
			},
		},
		"invoices": {
			Name:       "invoices",
			Endpoint:   "/invoices",
			PageSize:   DefaultPageSize,
			OutputFile: "factura_items.csv",
			Fields: []models.FieldSpec{
				parent("factura_id", "id"),
				parent("fecha_venta", "date"),
				item("item_id", "id"),
				item("item_name", "name"),
				item("item_quantity", "quantity"),
				parent("warehouse_name", "warehouse.name"),
			},
			LineItems: []string{"items"},
		},
		"purchase-orders": {
			Name:       "purchase-orders",
			Endpoint:   "/purchase-orders",
			PageSize:   DefaultPageSize,
			Params:     map[string]string{"order_direction": "ASC"},
			OutputFile: "purchase_orders.csv",
			Fields: []models.FieldSpec{
				parent("invoice_id", "id"),
				parent("added_inventory_date", "deliveryDate"),
				// The API exposes no provider reference on the order; the order id stands in.
				parent("provider_id", "id"),
				parent("warehouse_name", "warehouse.name"),
				item("price_provider", "price"),
				item("quantity", "quantity"),
				item("item_id", "id"),
				item("item_name", "name"),
			},
			LineItems: []string{"purchases.items", "items"},
		},
		"warehouse-transfers": {
			Name:       "warehouse-transfers",
			Endpoint:   "/warehouse-transfers",
			PageSize:   DefaultPageSize,
			OutputFile: "warehouse_movements.csv",
			Fields: []models.FieldSpec{
				parent("movement_date", "date"),
				parent("warehouse_origin", "origin.name"),
				parent("warehouse_destination", "destination.name"),
				item("item_id", "id"),
				item("item_name", "name"),
				item("quantity", "quantity"),
			},
			LineItems:       []string{"items"},
			KeepEmptyParent: true,
		},
		"warehouse-items": {
			Name:       "warehouse-items",
			Endpoint:   "/items",
			PageSize:   DefaultPageSize,
			OutputFile: "warehouse_inventory.csv",
			Fields: []models.FieldSpec{
				parent("item_id", "id"),
				parent("item_name", "name"),
				item("warehouse_id", "id"),
				item("warehouse_name", "name"),
				item("available_quantity", "availableQuantity"),
				item("initial_quantity", "initialQuantity"),
			},
			LineItems: []string{"inventory.warehouses"},
		},
	}
}

// Resources returns the catalogue in extraction order.
func Resources() []models.Resource {
	cat := Catalogue()
	out := make([]models.Resource, 0, len(cat))
	for _, name := range resourceOrder {
		out = append(out, cat[name])
	}
	return out
}

// LookupResource returns the named catalogue entry.
func LookupResource(name string) (models.Resource, error) {
	r, ok := Catalogue()[name]
	if !ok {
		names := make([]string, 0, len(resourceOrder))
		names = append(names, resourceOrder...)
		sort.Strings(names)
		return models.Resource{}, fmt.Errorf("unknown resource %q (known: %v)", name, names)
	}
	return r, nil
}
