package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/json"
	"github.com/fring-app/fring-core/logging"
)

const (
	streamBuffer   = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 512
)

// stream forwards bus events to one WebSocket client. Bus delivery is
// synchronous, so handle never blocks: a full buffer drops the event.
type stream struct {
	conn    *websocket.Conn
	out     chan eventView
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newStream(conn *websocket.Conn) *stream {
	return &stream{
		conn: conn,
		out:  make(chan eventView, streamBuffer),
		done: make(chan struct{}),
	}
}

func (st *stream) handle(_ context.Context, ev events.Event) error {
	select {
	case <-st.done:
		return nil
	default:
	}
	select {
	case st.out <- viewOf(ev):
	default:
		st.dropped.Add(1)
	}
	return nil
}

func (st *stream) close(code int, text string) {
	st.once.Do(func() {
		msg := websocket.FormatCloseMessage(code, text)
		_ = st.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(st.done)
		_ = st.conn.Close()
	})
}

func (st *stream) writeLoop(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-st.done:
			return
		case v := <-st.out:
			raw, err := json.Marshal(v)
			if err != nil {
				logger.Warn("encode stream event", zap.String("topic", v.Topic), zap.Error(err))
				continue
			}
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				st.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				st.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// readLoop discards client frames and returns when the client goes away.
func (st *stream) readLoop() {
	st.conn.SetReadLimit(maxClientFrame)
	_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
	st.conn.SetPongHandler(func(string) error {
		return st.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := st.conn.ReadMessage(); err != nil {
			st.close(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// streamEvents upgrades to a WebSocket and forwards every event on the
// ?topic= topics and, with ?pattern=, on every topic matching the regexp.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topics := q["topic"]
	var re *regexp.Regexp
	if p := q.Get("pattern"); p != "" {
		var err error
		if re, err = regexp.Compile(p); err != nil {
			BadRequest(w, r, "invalid pattern: "+err.Error())
			return
		}
	}
	if len(topics) == 0 && re == nil {
		BadRequest(w, r, "topic or pattern is required")
		return
	}

	logger := logging.WithContext(s.logger, r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("event stream upgrade failed", zap.Error(err))
		return
	}

	st := newStream(conn)
	s.track(st)
	defer s.untrack(st)

	subs := s.deps.Bus.SubscribeToMany(topics, st.handle)
	if re != nil {
		subs = append(subs, s.deps.Bus.SubscribeToPattern(re, st.handle))
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	logger.Info("event stream opened", zap.Strings("topics", topics), zap.String("pattern", q.Get("pattern")))
	go st.writeLoop(logger)
	st.readLoop()
	logger.Info("event stream closed", zap.Int64("dropped", st.dropped.Load()))
}
