package compiler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func TestLoadProject_FormatsAgree(t *testing.T) {
	ctx := context.Background()

	fromCUE, err := LoadProject(ctx, filepath.Join("testdata", "cue"))
	require.NoError(t, err)
	fromJSON, err := LoadProject(ctx, filepath.Join("testdata", "toll.json"))
	require.NoError(t, err)
	fromYAML, err := LoadProject(ctx, filepath.Join("testdata", "toll.yaml"))
	require.NoError(t, err)

	if diff := cmp.Diff(fromJSON, fromCUE); diff != "" {
		t.Errorf("CUE project differs from JSON (-json +cue):\n%s", diff)
	}
	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Errorf("YAML project differs from JSON (-json +yaml):\n%s", diff)
	}

	assert.Equal(t, "toll", fromCUE.Name)
	require.Len(t, fromCUE.Flows, 1)
	assert.Equal(t, ir.ID("1"), fromCUE.Flows[0].ID)
	assert.Equal(t, "main", fromCUE.Flows[0].Name)
	assert.Equal(t, []string{"mc", "cap"}, []string{fromCUE.Sheets[0].Shortcut, fromCUE.Sheets[1].Shortcut})

	d, ok := fromCUE.Flows[0].Nodes[1].Data.(ir.DialogueData)
	require.True(t, ok)
	assert.Equal(t, "cap.gold -= 3", d.Responses[0].InstructionText)
}

func TestLoadProject_MergesDirectory(t *testing.T) {
	p, err := LoadProject(context.Background(), filepath.Join("testdata", "mixed"))
	require.NoError(t, err)

	assert.Equal(t, "mixed", p.Name)
	require.Len(t, p.Sheets, 1)
	require.Len(t, p.Flows, 1)
	assert.Equal(t, ir.ID("2"), p.Flows[0].Nodes[1].ID, "integer ids decode as strings")
	assert.Empty(t, Validate(p))
}

func TestLoadProject_NotFound(t *testing.T) {
	_, err := LoadProject(context.Background(), filepath.Join("testdata", "missing"))
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrCodeNotFound, ce.Code)
}

func TestLoadProject_CUEErrorHasPosition(t *testing.T) {
	_, err := LoadProject(context.Background(), filepath.Join("testdata", "bad.cue"))
	var ce *CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrCodeBuildFailed, ce.Code)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue")
}

func TestLoadProject_SchemaViolation(t *testing.T) {
	_, err := LoadProject(context.Background(), filepath.Join("testdata", "unknown_field.json"))
	var ce *CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrCodeSchema, ce.Code)
}

func TestDecodeProject_Schema(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"empty project", `{}`, true},
		{"object default", `{"sheets": [{"shortcut": "a", "variables": [{"name": "b", "block_type": "text", "default": {"x": 1}}]}]}`, false},
		{"bad block type", `{"sheets": [{"shortcut": "a", "variables": [{"name": "b", "block_type": "float"}]}]}`, false},
		{"flow without nodes", `{"flows": [{"id": "1"}]}`, false},
		{"connection missing pin", `{"flows": [{"id": 1, "nodes": [], "connections": [{"source_node_id": 1, "target_node_id": 2}]}]}`, false},
		{"not an object", `[]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeProject(ctx, []byte(tt.doc))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestYAMLToJSON_NonStringKeys(t *testing.T) {
	out, err := yamlToJSON([]byte("flows:\n  - id: 1\n    nodes: []\n    connections: []\n    1: x\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"flows": [{"id": 1, "nodes": [], "connections": [], "1": "x"}]}`, string(out))
}
