package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Append(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *ev)
	return nil
}

func TestEmitter_PersistsBeforePublishing(t *testing.T) {
	sink := &recordingSink{}
	bus := NewBus(0)

	var mu sync.Mutex
	var live []Event
	sub := bus.Subscribe("ses_1", func(ev Event) {
		// The sink must already hold the event by the time fan-out runs.
		sink.mu.Lock()
		persisted := len(sink.events)
		sink.mu.Unlock()
		mu.Lock()
		live = append(live, ev)
		mu.Unlock()
		assert.GreaterOrEqual(t, persisted, 1)
	})
	defer bus.Unsubscribe(sub)

	emitter := NewEmitter(sink, bus)
	err := emitter.Emit(context.Background(), NewAnswerReady("ses_1", AnswerReady{Text: "hi"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(live) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, sink.events, 1)
}

func TestEmitter_SinkFailureStillFansOut(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	bus := NewBus(0)

	var mu sync.Mutex
	var live []Event
	sub := bus.Subscribe("ses_1", func(ev Event) {
		mu.Lock()
		live = append(live, ev)
		mu.Unlock()
	})
	defer bus.Unsubscribe(sub)

	emitter := NewEmitter(sink, bus)
	err := emitter.Emit(context.Background(), NewThinking("ses_1", Thinking{Text: "x"}))
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(live) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEmitter_NilSidesAreTolerated(t *testing.T) {
	assert.NoError(t, NewEmitter(nil, NewBus(0)).Emit(context.Background(),
		NewThinking("ses_1", Thinking{Text: "bus only"})))

	sink := &recordingSink{}
	assert.NoError(t, NewEmitter(sink, nil).Emit(context.Background(),
		NewThinking("ses_1", Thinking{Text: "sink only"})))
	assert.Len(t, sink.events, 1)
}
