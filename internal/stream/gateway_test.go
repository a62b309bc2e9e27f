package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-ai/reins/internal/agent"
	"github.com/overwatch-ai/reins/internal/event"
	"github.com/overwatch-ai/reins/internal/eventlog"
	"github.com/overwatch-ai/reins/internal/testutil"
)

type streamHarness struct {
	sessions *agent.SessionStore
	history  *eventlog.Store
	bus      *event.Bus
	server   *httptest.Server
}

func newStreamHarness(t *testing.T) *streamHarness {
	t.Helper()

	sessions, err := agent.NewSessionStore(testutil.NewTestDB(t))
	require.NoError(t, err)
	history := testutil.NewTestEventStore(t)
	bus := event.NewBus(event.DefaultBufferSize)

	router := chi.NewRouter()
	router.Get("/v1/sessions/{sessionID}/stream", NewGateway(sessions, history, bus).ServeHTTP)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &streamHarness{sessions: sessions, history: history, bus: bus, server: server}
}

func (h *streamHarness) dial(t *testing.T, sessionID, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/sessions/" + sessionID + "/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *streamHarness) newSession(t *testing.T) *agent.Session {
	t.Helper()
	session := agent.NewSession("user-1", agent.AutonomyAssisted)
	require.NoError(t, h.sessions.Save(context.Background(), session))
	return session
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev event.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestStreamUnknownSessionClosesWithPolicyViolation(t *testing.T) {
	h := newStreamHarness(t)

	conn := h.dial(t, "ses_nope", "")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "unknown session", closeErr.Text)
}

func TestStreamReplaysHistoryInOrder(t *testing.T) {
	h := newStreamHarness(t)
	ctx := context.Background()
	session := h.newSession(t)

	created := event.NewSessionCreated(session.ID, event.SessionCreated{ActorID: "user-1", Autonomy: "assisted"})
	started := event.NewPlanningStarted(session.ID, event.PlanningStarted{Iteration: 1})
	require.NoError(t, h.history.Append(ctx, &created))
	require.NoError(t, h.history.Append(ctx, &started))

	conn := h.dial(t, session.ID, "")

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	assert.Equal(t, event.TypeSessionCreated, first.Type)
	assert.Equal(t, event.TypePlanningStarted, second.Type)
	assert.Equal(t, session.ID, first.SessionID)
}

func TestStreamDeliversLiveEvents(t *testing.T) {
	h := newStreamHarness(t)
	session := h.newSession(t)

	conn := h.dial(t, session.ID, "?replay=0")

	// The subscription attaches after the handshake; wait for it before
	// publishing so the event is not emitted into a void.
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(session.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.bus.Publish(event.NewAnswerReady(session.ID, event.AnswerReady{Text: "done"}))

	got := readEvent(t, conn)
	assert.Equal(t, event.TypeAnswerReady, got.Type)
	assert.Equal(t, session.ID, got.SessionID)
}

func TestStreamSkipsHistoryWhenReplayDisabled(t *testing.T) {
	h := newStreamHarness(t)
	ctx := context.Background()
	session := h.newSession(t)

	created := event.NewSessionCreated(session.ID, event.SessionCreated{ActorID: "user-1", Autonomy: "assisted"})
	require.NoError(t, h.history.Append(ctx, &created))

	conn := h.dial(t, session.ID, "?replay=0")

	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(session.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.bus.Publish(event.NewCompleted(session.ID, "", event.Completed{DurationMS: 5}))

	// The first frame is the live event, not the logged history.
	got := readEvent(t, conn)
	assert.Equal(t, event.TypeCompleted, got.Type)
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	h := newStreamHarness(t)
	session := h.newSession(t)

	conn := h.dial(t, session.ID, "?replay=0")

	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(session.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(session.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamTwoObserversBothReceive(t *testing.T) {
	h := newStreamHarness(t)
	session := h.newSession(t)

	a := h.dial(t, session.ID, "?replay=0")
	b := h.dial(t, session.ID, "?replay=0")

	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(session.ID) == 2
	}, 2*time.Second, 10*time.Millisecond)

	h.bus.Publish(event.NewThinking(session.ID, event.Thinking{Text: "hm"}))

	assert.Equal(t, event.TypeThinking, readEvent(t, a).Type)
	assert.Equal(t, event.TypeThinking, readEvent(t, b).Type)
}
