package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(name, desc string) *FuncTool {
	return NewFuncTool(name, desc, nil,
		func(_ context.Context, _ map[string]any) (string, error) {
			return "ok", nil
		})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stub("search", "Search tool"))

	got, ok := r.Get("search")
	require.True(t, ok)
	assert.Equal(t, "search", got.Name())
	assert.Equal(t, "Search tool", got.Description())
	assert.JSONEq(t, `{"type":"object"}`, string(got.InputSchema()))
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	assert.Len(t, r.List(), 0)

	r.Register(stub("tool-a", "A"))
	r.Register(stub("tool-b", "B"))

	tools := r.List()
	assert.Len(t, tools, 2)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name()] = true
	}
	assert.True(t, names["tool-a"])
	assert.True(t, names["tool-b"])
}

func TestRegistry_OverwriteExisting(t *testing.T) {
	r := NewRegistry()

	r.Register(stub("search", "v1"))
	r.Register(stub("search", "v2"))

	got, ok := r.Get("search")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Description())
	assert.Len(t, r.List(), 1)
}

func TestFuncTool_Execute(t *testing.T) {
	tool := NewFuncTool("echo", "Echo", json.RawMessage(`{"type":"object"}`),
		func(_ context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		})

	result, err := tool.Execute(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}
