package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/json"
)

type streamed struct {
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func dialStream(t *testing.T, baseURL, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/events?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) streamed {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev streamed
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestStream_ForwardsSubscribedTopics(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn := dialStream(t, ts.URL, "topic="+events.TopicNavigationRequested)
	require.Eventually(t, func() bool {
		return f.bus.HasSubscribers(events.TopicNavigationRequested)
	}, time.Second, 5*time.Millisecond)

	f.coord.RequestNavigation(context.Background(), "/modules/files")

	ev := readEvent(t, conn)
	assert.Equal(t, events.TopicNavigationRequested, ev.Topic)
	var nav events.NavigationRequested
	require.NoError(t, json.Unmarshal(ev.Data, &nav))
	assert.Equal(t, "/modules/files", nav.Path)
	assert.NotZero(t, ev.Timestamp)
}

func TestStream_PatternSubscription(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn := dialStream(t, ts.URL, "pattern=^chat:")
	require.Eventually(t, func() bool {
		return f.bus.HasSubscribers(events.TopicNewEvent)
	}, time.Second, 5*time.Millisecond)

	raw, err := events.NewRaw("chat:message", map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(context.Background(), "chat:message", raw))

	ev := readEvent(t, conn)
	assert.Equal(t, "chat:message", ev.Topic)
	assert.JSONEq(t, `{"text":"hi"}`, string(ev.Data))
}

func TestStream_Unsubscribes_WhenClientLeaves(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn := dialStream(t, ts.URL, "topic=chat:typing")
	require.Eventually(t, func() bool { return f.bus.HasSubscribers("chat:typing") }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return !f.bus.HasSubscribers("chat:typing") }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_RequiresTopicOrPattern(t *testing.T) {
	f := newFixture(t)
	tests := []string{"/ws/events", "/ws/events?pattern=("}
	for _, path := range tests {
		rec := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	f.srv.cfg.CORSOrigins = []string{"http://app.local"}
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?topic=x"
	header := http.Header{"Origin": []string{"http://evil.local"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ShutdownClosesStreams(t *testing.T) {
	f := newFixture(t)
	f.srv.cfg.Addr = "127.0.0.1:0"
	require.NoError(t, f.srv.Start())

	conn := dialStream(t, "http://"+f.srv.Addr(), "topic=chat:message")
	require.Eventually(t, func() bool { return f.bus.HasSubscribers("chat:message") }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.srv.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
