package ir

import (
	"encoding/json"
	"fmt"
)

// BlockType is the declared type of a sheet variable.
type BlockType string

const (
	BlockNumber      BlockType = "number"
	BlockBoolean     BlockType = "boolean"
	BlockText        BlockType = "text"
	BlockRichText    BlockType = "rich_text"
	BlockSelect      BlockType = "select"
	BlockMultiSelect BlockType = "multi_select"
	BlockDate        BlockType = "date"
)

// Constraints restrict the values a variable may hold.
type Constraints struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Options []string `json:"options,omitempty"`
}

// VariableDef declares a variable on a sheet.
type VariableDef struct {
	Name        string       `json:"name"`
	BlockType   BlockType    `json:"block_type"`
	Default     Value        `json:"default,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler for VariableDef.
func (d *VariableDef) UnmarshalJSON(data []byte) error {
	type plain VariableDef
	var raw struct {
		plain
		Default json.RawMessage `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodeOptionalValue(raw.Default)
	if err != nil {
		return fmt.Errorf("variable %q default: %w", raw.Name, err)
	}
	*d = VariableDef(raw.plain)
	d.Default = v
	return nil
}

// Sheet is a namespace of variables addressed by a dotted shortcut.
type Sheet struct {
	Shortcut  string        `json:"shortcut"`
	Name      string        `json:"name,omitempty"`
	Variables []VariableDef `json:"variables"`
}

// KnownVariable is a catalog entry used by the linter.
type KnownVariable struct {
	SheetShortcut string `json:"sheet_shortcut"`
	VariableName  string `json:"variable_name"`
}

// Ref returns the catalog entry as a VariableRef.
func (k KnownVariable) Ref() VariableRef {
	return VariableRef{Sheet: k.SheetShortcut, Variable: k.VariableName}
}

// Project bundles the sheets and flows of one narrative project.
type Project struct {
	Name   string  `json:"name,omitempty"`
	Sheets []Sheet `json:"sheets"`
	Flows  []Flow  `json:"flows"`
}

// Catalog lists every declared variable in sheet order.
func (p *Project) Catalog() []KnownVariable {
	var out []KnownVariable
	for _, s := range p.Sheets {
		for _, v := range s.Variables {
			out = append(out, KnownVariable{SheetShortcut: s.Shortcut, VariableName: v.Name})
		}
	}
	return out
}

// Flow returns the flow with the given id.
func (p *Project) Flow(id ID) (*Flow, bool) {
	for i := range p.Flows {
		if p.Flows[i].ID == id {
			return &p.Flows[i], true
		}
	}
	return nil, false
}

// Merge appends the sheets and flows of other, keeping p's name when set.
func (p *Project) Merge(other *Project) {
	if p.Name == "" {
		p.Name = other.Name
	}
	p.Sheets = append(p.Sheets, other.Sheets...)
	p.Flows = append(p.Flows, other.Flows...)
}
