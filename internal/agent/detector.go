package agent

import (
	"fmt"
	"strings"

	"github.com/overwatch-ai/reins/internal/agent/tools"
	"github.com/overwatch-ai/reins/internal/llm"
)

// ResponseKind classifies a model response.
type ResponseKind string

const (
	// ResponseNoTools is a final answer with no tool calls.
	ResponseNoTools ResponseKind = "no_tools"
	// ResponseDirectCalls is a small number of calls below the plan
	// threshold, all read-only risk, executed inline without a plan record.
	ResponseDirectCalls ResponseKind = "direct_calls"
	// ResponsePlan is a multi-step or above-read-only proposal that needs an
	// auto-execute/approval decision as a unit.
	ResponsePlan ResponseKind = "plan"
)

// Classification is the detector's verdict on one model response. For
// ResponsePlan, Plan holds the not-yet-persisted plan value; for
// ResponseDirectCalls, Steps holds the inline steps.
type Classification struct {
	Kind  ResponseKind
	Plan  *Plan
	Steps []Step
}

// Classify inspects a model response and classifies it. Risk per step comes
// from the capability table; tools absent from the table default to
// write_high. A response becomes a plan when it has planThreshold or more
// calls, or any call above read-only risk. Pure function, no side effects.
func Classify(sessionID string, resp *llm.Response, caps *tools.Capabilities, planThreshold int) Classification {
	if len(resp.ToolCalls) == 0 {
		return Classification{Kind: ResponseNoTools}
	}
	if planThreshold < 2 {
		planThreshold = 2
	}

	steps := make([]Step, len(resp.ToolCalls))
	anyAboveReadOnly := false
	for i, tc := range resp.ToolCalls {
		risk := caps.RiskOf(tc.Name)
		if !risk.AtMost(tools.RiskReadOnly) {
			anyAboveReadOnly = true
		}
		steps[i] = Step{
			Tool:   tc.Name,
			Args:   tc.Arguments,
			Risk:   risk,
			CallID: tc.ID,
		}
	}

	if len(steps) < planThreshold && !anyAboveReadOnly {
		return Classification{Kind: ResponseDirectCalls, Steps: steps}
	}

	return Classification{
		Kind: ResponsePlan,
		Plan: NewPlan(sessionID, planPurpose(resp, steps), steps),
	}
}

// planPurpose derives a human-readable purpose from the response text, or
// from the tool names when the model sent calls without commentary.
func planPurpose(resp *llm.Response, steps []Step) string {
	if text := strings.TrimSpace(resp.Content); text != "" {
		const maxPurposeLen = 200
		if len(text) > maxPurposeLen {
			text = text[:maxPurposeLen]
		}
		return text
	}
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.Tool
	}
	return fmt.Sprintf("execute %d tool calls: %s", len(steps), strings.Join(names, ", "))
}
