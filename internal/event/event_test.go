package event

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors_SetTypeAndIdentity(t *testing.T) {
	ev := NewPlanProposed("ses_1", "plan_1", PlanProposed{
		Purpose: "deploy", StepCount: 3, RiskLevel: "write", AutoExecute: false,
	})

	assert.Equal(t, TypePlanProposed, ev.Type)
	assert.Equal(t, "ses_1", ev.SessionID)
	assert.Equal(t, "plan_1", ev.PlanID)
	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))
	assert.False(t, ev.Timestamp.IsZero())

	payload, ok := ev.Payload.(PlanProposed)
	assert.True(t, ok)
	assert.Equal(t, 3, payload.StepCount)
}

func TestConstructors_SessionScopedEventsHaveNoPlanID(t *testing.T) {
	for _, ev := range []Event{
		NewSessionCreated("ses_1", SessionCreated{ActorID: "a", Autonomy: "assisted"}),
		NewAnswerReady("ses_1", AnswerReady{Text: "done"}),
		NewError("ses_1", ErrorInfo{Message: "boom"}),
	} {
		assert.Empty(t, ev.PlanID, "event %s should not carry a plan id", ev.Type)
	}
}

func TestType_Valid(t *testing.T) {
	for _, known := range Types() {
		assert.True(t, known.Valid(), "%s should be valid", known)
	}
	assert.False(t, Type("plan_exploded").Valid())
	assert.False(t, Type("").Valid())
}

func TestTypes_CoversFullEnumeration(t *testing.T) {
	assert.Len(t, Types(), 19)
}

func TestEventIDs_AreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ev := NewThinking("ses_1", Thinking{Text: "x"})
		assert.False(t, seen[ev.ID], "duplicate id %s", ev.ID)
		seen[ev.ID] = true
	}
}
