// Package catalog reads and maintains the tool and chemical records that cycle counts audit.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inventory-backend/internal/cyclecount"
	"inventory-backend/internal/models"

	"gorm.io/gorm"
)

// Store is the gorm-backed catalog adapter used by the cycle count service.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Resolve looks up one record by its tagged reference.
func (s *Store) Resolve(ctx context.Context, ref models.ItemRef) (cyclecount.CatalogEntry, error) {
	db := s.db.WithContext(ctx)

	switch ref.Type {
	case models.ItemTypeTool:
		var tool models.Tool
		if err := db.First(&tool, ref.ID).Error; err != nil {
			return cyclecount.CatalogEntry{}, notFound(err, ref)
		}
		return toolEntry(tool), nil

	case models.ItemTypeChemical:
		var chem models.Chemical
		if err := db.First(&chem, ref.ID).Error; err != nil {
			return cyclecount.CatalogEntry{}, notFound(err, ref)
		}
		return chemicalEntry(chem), nil
	}

	return cyclecount.CatalogEntry{}, cyclecount.ValidationError{
		Field:   "item_type",
		Message: fmt.Sprintf("has invalid value %q", ref.Type),
	}
}

// Snapshot returns every countable record of the given types. Retired tools are not countable.
func (s *Store) Snapshot(ctx context.Context, types []models.ItemType) ([]cyclecount.CatalogEntry, error) {
	db := s.db.WithContext(ctx)
	var out []cyclecount.CatalogEntry

	for _, t := range dedupeTypes(types) {
		switch t {
		case models.ItemTypeTool:
			var tools []models.Tool
			if err := db.Where("status <> ?", models.ToolRetired).Order("id ASC").Find(&tools).Error; err != nil {
				return nil, fmt.Errorf("load tools: %w", err)
			}
			for _, tool := range tools {
				out = append(out, toolEntry(tool))
			}

		case models.ItemTypeChemical:
			var chems []models.Chemical
			if err := db.Order("id ASC").Find(&chems).Error; err != nil {
				return nil, fmt.Errorf("load chemicals: %w", err)
			}
			for _, chem := range chems {
				out = append(out, chemicalEntry(chem))
			}

		default:
			return nil, cyclecount.ValidationError{Field: "item_types", Message: fmt.Sprintf("has invalid value %q", t)}
		}
	}
	return out, nil
}

func dedupeTypes(types []models.ItemType) []models.ItemType {
	seen := map[models.ItemType]bool{}
	out := make([]models.ItemType, 0, len(types))
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func notFound(err error, ref models.ItemRef) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cyclecount.NotFoundError{Entity: string(ref.Type), ID: ref.ID}
	}
	return fmt.Errorf("resolve %s: %w", ref, err)
}

func toolEntry(t models.Tool) cyclecount.CatalogEntry {
	name := t.ToolNumber
	if d := strings.TrimSpace(t.Description); d != "" {
		name = t.ToolNumber + " " + d
	}
	return cyclecount.CatalogEntry{
		Ref:       models.ToolRef(t.ID),
		Name:      name,
		Category:  t.Category,
		Location:  t.Location,
		Quantity:  t.Quantity,
		UnitValue: t.UnitValue,
	}
}

func chemicalEntry(c models.Chemical) cyclecount.CatalogEntry {
	name := c.PartNumber
	if d := strings.TrimSpace(c.Description); d != "" {
		name = c.PartNumber + " " + d
	}
	if c.LotNumber != "" {
		name += " (lot " + c.LotNumber + ")"
	}
	return cyclecount.CatalogEntry{
		Ref:       models.ChemicalRef(c.ID),
		Name:      name,
		Category:  c.Category,
		Location:  c.Location,
		Quantity:  c.Quantity,
		UnitValue: c.UnitCost,
	}
}
