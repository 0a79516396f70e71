package compiler

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"
)

//go:embed project.schema.json
var projectSchemaJSON []byte

var (
	projectSchemaOnce sync.Once
	projectSchema     *jsonschema.Schema
	projectSchemaErr  error
)

// ProjectSchema returns the JSON Schema every project document must
// satisfy, whichever format it was authored in.
func ProjectSchema() (*jsonschema.Schema, error) {
	projectSchemaOnce.Do(func() {
		rs := &jsonschema.Schema{}
		if err := rs.UnmarshalJSON(projectSchemaJSON); err != nil {
			projectSchemaErr = fmt.Errorf("parse project schema: %w", err)
			return
		}
		projectSchema = rs
	})
	return projectSchema, projectSchemaErr
}

// ValidateDocument checks a JSON project document against ProjectSchema.
// Schema violations come back as a single *CompileError listing each
// failing property path.
func ValidateDocument(ctx context.Context, doc []byte) error {
	schema, err := ProjectSchema()
	if err != nil {
		return err
	}
	keyErrs, err := schema.ValidateBytes(ctx, doc)
	if err != nil && len(keyErrs) == 0 {
		return &CompileError{Code: ErrCodeDecode, Message: err.Error()}
	}
	if len(keyErrs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(keyErrs))
	for _, ke := range keyErrs {
		path := ke.PropertyPath
		if path == "" {
			path = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", path, ke.Message))
	}
	return &CompileError{
		Code:    ErrCodeSchema,
		Field:   keyErrs[0].PropertyPath,
		Message: strings.Join(msgs, "; "),
	}
}
