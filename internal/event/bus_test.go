package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectorHandler(mu *sync.Mutex, got *[]Event) Handler {
	return func(ev Event) {
		mu.Lock()
		*got = append(*got, ev)
		mu.Unlock()
	}
}

func TestBus_DeliversInEmissionOrder(t *testing.T) {
	bus := NewBus(0)
	var mu sync.Mutex
	var got []Event

	sub := bus.Subscribe("ses_1", collectorHandler(&mu, &got))
	defer bus.Unsubscribe(sub)

	bus.Publish(NewPlanningStarted("ses_1", PlanningStarted{Iteration: 1}))
	bus.Publish(NewThinking("ses_1", Thinking{Text: "working"}))
	bus.Publish(NewAnswerReady("ses_1", AnswerReady{Text: "done"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, TypePlanningStarted, got[0].Type)
	assert.Equal(t, TypeThinking, got[1].Type)
	assert.Equal(t, TypeAnswerReady, got[2].Type)
}

func TestBus_RoutesBySession(t *testing.T) {
	bus := NewBus(0)
	var mu sync.Mutex
	var got []Event

	sub := bus.Subscribe("ses_a", collectorHandler(&mu, &got))
	defer bus.Unsubscribe(sub)

	bus.Publish(NewThinking("ses_b", Thinking{Text: "not for us"}))
	bus.Publish(NewThinking("ses_a", Thinking{Text: "for us"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ses_a", got[0].SessionID)
}

func TestBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus(0)
	assert.NotPanics(t, func() {
		bus.Publish(NewThinking("ses_nobody", Thinking{Text: "void"}))
	})
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe("ses_1", func(Event) {})
	assert.Equal(t, 1, bus.SubscriberCount("ses_1"))

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount("ses_1"))

	assert.NotPanics(t, func() {
		bus.Unsubscribe(sub)
		bus.Unsubscribe(nil)
	})
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus(0)
	var mu sync.Mutex
	var first, second []Event

	s1 := bus.Subscribe("ses_1", collectorHandler(&mu, &first))
	s2 := bus.Subscribe("ses_1", collectorHandler(&mu, &second))
	defer bus.Unsubscribe(s1)
	defer bus.Unsubscribe(s2)

	bus.Publish(NewCompleted("ses_1", "plan_1", Completed{DurationMS: 5}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 1 && len(second) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_UnsubscribedSubscriberStopsReceiving(t *testing.T) {
	bus := NewBus(0)
	var mu sync.Mutex
	var first, second []Event

	s1 := bus.Subscribe("ses_1", collectorHandler(&mu, &first))
	s2 := bus.Subscribe("ses_1", collectorHandler(&mu, &second))
	defer bus.Unsubscribe(s2)

	bus.Publish(NewThinking("ses_1", Thinking{Text: "both"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 1 && len(second) == 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.Unsubscribe(s1)
	bus.Publish(NewThinking("ses_1", Thinking{Text: "only second"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, first, 1, "unsubscribed subscriber must not receive later events")
}

func TestBus_SlowSubscriberLosesEventsNotSiblings(t *testing.T) {
	bus := NewBus(1)
	var mu sync.Mutex
	var healthy []Event

	// Handler that never returns, so its one-slot buffer stays full.
	block := make(chan struct{})
	defer close(block)
	slow := bus.Subscribe("ses_1", func(Event) { <-block })
	fast := bus.Subscribe("ses_1", collectorHandler(&mu, &healthy))
	defer bus.Unsubscribe(slow)
	defer bus.Unsubscribe(fast)

	for i := 0; i < 10; i++ {
		bus.Publish(NewThinking("ses_1", Thinking{Text: "tick"}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(healthy) == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_PanickingHandlerIsRecovered(t *testing.T) {
	bus := NewBus(0)
	var mu sync.Mutex
	var got []Event

	panicky := bus.Subscribe("ses_1", func(Event) { panic("handler bug") })
	healthy := bus.Subscribe("ses_1", collectorHandler(&mu, &got))
	defer bus.Unsubscribe(panicky)
	defer bus.Unsubscribe(healthy)

	bus.Publish(NewThinking("ses_1", Thinking{Text: "one"}))
	bus.Publish(NewThinking("ses_1", Thinking{Text: "two"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
