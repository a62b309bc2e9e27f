package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-ai/reins/internal/agent/tools"
	"github.com/overwatch-ai/reins/internal/llm"
)

func TestClassifyNoTools(t *testing.T) {
	cls := Classify("ses_1", &llm.Response{Content: "The answer is 42."}, tools.DefaultCapabilities(), 2)
	assert.Equal(t, ResponseNoTools, cls.Kind)
	assert.Nil(t, cls.Plan)
	assert.Empty(t, cls.Steps)
}

func TestClassifySingleReadOnlyCallIsDirect(t *testing.T) {
	resp := &llm.Response{
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "current_time", Arguments: map[string]any{}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 2)
	require.Equal(t, ResponseDirectCalls, cls.Kind)
	require.Len(t, cls.Steps, 1)
	assert.Equal(t, "current_time", cls.Steps[0].Tool)
	assert.Equal(t, tools.RiskReadOnly, cls.Steps[0].Risk)
	assert.Equal(t, "call_1", cls.Steps[0].CallID)
}

func TestClassifyMultipleCallsBecomePlan(t *testing.T) {
	resp := &llm.Response{
		Content: "I'll check the time and read the file.",
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "current_time", Arguments: map[string]any{}},
			{ID: "c2", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 2)
	require.Equal(t, ResponsePlan, cls.Kind)
	require.NotNil(t, cls.Plan)
	assert.Equal(t, "ses_1", cls.Plan.SessionID)
	assert.Equal(t, PlanProposed, cls.Plan.Status)
	assert.Len(t, cls.Plan.Steps, 2)
	assert.Equal(t, tools.RiskReadOnly, cls.Plan.MaxRisk)
	assert.Equal(t, "I'll check the time and read the file.", cls.Plan.Purpose)
}

func TestClassifySingleWriteCallBecomesPlan(t *testing.T) {
	resp := &llm.Response{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "a.txt", "content": "x"}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 2)
	require.Equal(t, ResponsePlan, cls.Kind)
	assert.Equal(t, tools.RiskWriteLow, cls.Plan.MaxRisk)
}

func TestClassifyUnknownToolDefaultsToWriteHigh(t *testing.T) {
	resp := &llm.Response{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "launch_missiles", Arguments: map[string]any{}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 2)
	require.Equal(t, ResponsePlan, cls.Kind)
	assert.Equal(t, tools.RiskWriteHigh, cls.Plan.MaxRisk)
}

func TestClassifyAggregateRiskIsMax(t *testing.T) {
	resp := &llm.Response{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "a"}},
			{ID: "c2", Name: "write_file", Arguments: map[string]any{"path": "b", "content": "x"}},
			{ID: "c3", Name: "delete_file", Arguments: map[string]any{"path": "c"}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 2)
	require.Equal(t, ResponsePlan, cls.Kind)
	assert.Equal(t, tools.RiskWriteHigh, cls.Plan.MaxRisk)
}

func TestClassifyPurposeFallsBackToToolNames(t *testing.T) {
	resp := &llm.Response{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "current_time", Arguments: map[string]any{}},
			{ID: "c2", Name: "list_dir", Arguments: map[string]any{}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 2)
	require.Equal(t, ResponsePlan, cls.Kind)
	assert.Contains(t, cls.Plan.Purpose, "current_time")
	assert.Contains(t, cls.Plan.Purpose, "list_dir")
}

func TestClassifyRespectsPlanThreshold(t *testing.T) {
	resp := &llm.Response{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "current_time", Arguments: map[string]any{}},
			{ID: "c2", Name: "list_dir", Arguments: map[string]any{}},
		},
	}
	cls := Classify("ses_1", resp, tools.DefaultCapabilities(), 3)
	assert.Equal(t, ResponseDirectCalls, cls.Kind)
}
