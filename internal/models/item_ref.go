package models

import "fmt"

type ItemType string

const (
	ItemTypeTool     ItemType = "tool"
	ItemTypeChemical ItemType = "chemical"
)

// AllItemTypes lists every catalog kind that can be counted.
var AllItemTypes = []ItemType{ItemTypeTool, ItemTypeChemical}

func (t ItemType) Valid() bool {
	return t == ItemTypeTool || t == ItemTypeChemical
}

// ItemRef points at one catalog record: a tool or a chemical.
// Resolvers switch on Type; the ID is only meaningful together with it.
type ItemRef struct {
	Type ItemType `json:"item_type"`
	ID   uint     `json:"item_id"`
}

func ToolRef(id uint) ItemRef     { return ItemRef{Type: ItemTypeTool, ID: id} }
func ChemicalRef(id uint) ItemRef { return ItemRef{Type: ItemTypeChemical, ID: id} }

func (r ItemRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Less orders refs by type, then id. Used wherever a stable catalog order is needed.
func (r ItemRef) Less(o ItemRef) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	return r.ID < o.ID
}
