package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/roach88/storyflow/internal/ir"
)

// LoadProject reads a project from path. A file is decoded by its
// extension (.cue, .json, .yaml, .yml); a directory is loaded as one CUE
// instance when it holds .cue files, and every JSON/YAML file in it is
// merged on top. Every document is checked against ProjectSchema before
// it is decoded.
func LoadProject(ctx context.Context, path string) (*ir.Project, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &CompileError{Code: ErrCodeNotFound, Message: fmt.Sprintf("project not found: %s", path)}
	}
	if err != nil {
		return nil, &CompileError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing project: %v", err)}
	}
	if !info.IsDir() {
		return loadFile(ctx, path)
	}
	return loadDir(ctx, path)
}

func loadDir(ctx context.Context, dir string) (*ir.Project, error) {
	files, err := FindProjectFiles(dir)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &CompileError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no project files found in %s", dir)}
	}

	project := &ir.Project{}
	hasCUE := false
	for _, f := range files {
		if filepath.Ext(f) == ".cue" {
			hasCUE = true
			continue
		}
		p, err := loadFile(ctx, f)
		if err != nil {
			return nil, err
		}
		project.Merge(p)
	}
	if hasCUE {
		p, err := loadCUEDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		// CUE documents come first so their name wins.
		p.Merge(project)
		project = p
	}
	return project, nil
}

// FindProjectFiles walks the directory and returns all project file paths
// in lexical order.
func FindProjectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// Scenario directories sit next to projects; they are not project documents.
			if path != dir && info.Name() == "scenarios" {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue", ".json", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func loadFile(ctx context.Context, path string) (*ir.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err, ErrCodeBuildFailed)
		}
		return CompileProject(ctx, v)
	case ".json":
		return DecodeProject(ctx, data)
	case ".yaml", ".yml":
		doc, err := yamlToJSON(data)
		if err != nil {
			return nil, &CompileError{Code: ErrCodeDecode, Field: path, Message: err.Error()}
		}
		return DecodeProject(ctx, doc)
	default:
		return nil, &CompileError{Code: ErrCodeGeneric, Message: fmt.Sprintf("unsupported project file: %s", path)}
	}
}

func loadCUEDir(ctx context.Context, dir string) (*ir.Project, error) {
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &CompileError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err, ErrCodeLoadFailed)
	}
	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err, ErrCodeBuildFailed)
	}
	return CompileProject(ctx, value)
}

// CompileProject converts a CUE value into a Project. The value carries
// an optional name plus "sheet" and "flow" structs keyed by label:
//
//	name: "toll"
//	sheet: mc: variables: [{name: "health", block_type: "number"}]
//	flow: main: {id: "1", nodes: [...], connections: [...]}
//
// A sheet's label is its shortcut and a flow's label its name unless the
// body sets them. Labels are visited in source order.
func CompileProject(ctx context.Context, v cue.Value) (*ir.Project, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err, ErrCodeBuildFailed)
	}

	doc := map[string]any{}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err, ErrCodeBuildFailed)
		}
		doc["name"] = name
	}

	sheets, err := compileEntries(v, "sheet", "shortcut")
	if err != nil {
		return nil, err
	}
	flows, err := compileEntries(v, "flow", "name")
	if err != nil {
		return nil, err
	}
	doc["sheets"] = sheets
	doc["flows"] = flows

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return DecodeProject(ctx, data)
}

// compileEntries reads the struct at field, returning each member as a
// JSON object with labelKey defaulted to the member's label.
func compileEntries(v cue.Value, field, labelKey string) ([]map[string]any, error) {
	out := []map[string]any{}
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return out, nil
	}
	iter, err := fieldVal.Fields()
	if err != nil {
		return nil, formatCUEError(err, ErrCodeBuildFailed)
	}
	for iter.Next() {
		raw, err := iter.Value().MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err, ErrCodeBuildFailed)
		}
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, &CompileError{
				Code:    ErrCodeBuildFailed,
				Field:   field + "." + iter.Selector().String(),
				Message: "must be a struct",
				Pos:     iter.Value().Pos(),
			}
		}
		if _, ok := entry[labelKey]; !ok {
			entry[labelKey] = iter.Selector().Unquoted()
		}
		out = append(out, entry)
	}
	return out, nil
}

// DecodeProject validates a JSON project document against ProjectSchema
// and decodes it.
func DecodeProject(ctx context.Context, data []byte) (*ir.Project, error) {
	if err := ValidateDocument(ctx, data); err != nil {
		return nil, err
	}
	var p ir.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &CompileError{Code: ErrCodeDecode, Message: err.Error()}
	}
	return &p, nil
}

// yamlToJSON re-encodes a YAML document as JSON so every format goes
// through the same schema check and decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return json.Marshal(stringKeys(doc))
}

// stringKeys converts the map[any]any values yaml.v3 produces for
// non-string keys into map[string]any, recursively.
func stringKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			val[k] = stringKeys(elem)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = stringKeys(elem)
		}
		return out
	case []any:
		for i, elem := range val {
			val[i] = stringKeys(elem)
		}
		return val
	default:
		return v
	}
}
