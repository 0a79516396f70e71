package store

import (
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// unmarshalValue parses a stored variable's canonical JSON back into a Value.
func unmarshalValue(data string) (ir.Value, error) {
	if data == "" {
		return ir.Nil{}, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
