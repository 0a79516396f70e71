package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VariableRef identifies a single mutable slot: a variable within a sheet.
// Printed as "sheet.variable"; the sheet shortcut may itself contain dots
// (e.g. "mc.jaime.health" is sheet "mc.jaime", variable "health").
type VariableRef struct {
	Sheet    string `json:"sheet"`
	Variable string `json:"variable"`
}

// Ref is a shorthand constructor for VariableRef.
func Ref(sheet, variable string) VariableRef {
	return VariableRef{Sheet: sheet, Variable: variable}
}

// ParseRef splits a dotted reference at its last dot.
// Returns an error if the reference has fewer than two non-empty segments.
func ParseRef(s string) (VariableRef, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return VariableRef{}, fmt.Errorf("invalid variable reference %q: want sheet.variable", s)
	}
	ref := VariableRef{Sheet: s[:idx], Variable: s[idx+1:]}
	for _, seg := range strings.Split(ref.Sheet, ".") {
		if seg == "" {
			return VariableRef{}, fmt.Errorf("invalid variable reference %q: empty segment", s)
		}
	}
	return ref, nil
}

// String returns the dotted form "sheet.variable".
func (r VariableRef) String() string {
	return r.Sheet + "." + r.Variable
}

// Complete reports whether both sheet and variable are set.
func (r VariableRef) Complete() bool {
	return r.Sheet != "" && r.Variable != ""
}

// ID identifies nodes, flows and responses. Authoring stores mix integer
// and string identifiers, so ID accepts both JSON forms and always
// marshals as a string.
type ID string

// UnmarshalJSON implements json.Unmarshaler for ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or integer: %w", err)
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("id must be a string or integer, got %s", string(data))
	}
	*id = ID(strconv.FormatInt(i, 10))
	return nil
}

// String returns the identifier text.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool {
	return id == ""
}
