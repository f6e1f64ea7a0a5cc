package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/logging"
)

type ctxKey string

const (
	// TraceIDHeader carries the request trace id in and out.
	TraceIDHeader = "X-Trace-ID"

	startTimeKey ctxKey = "start_time"
)

// Publisher is the part of the event bus the gateway reports to.
type Publisher interface {
	Publish(ctx context.Context, topic string, data events.Payload) error
}

// TraceID reuses an incoming X-Trace-ID or generates one, echoes it on the
// response and stores it, together with the start time, in the context.
func TraceID() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceIDHeader)
			if traceID == "" {
				traceID = uuid.New().String()
			}
			w.Header().Set(TraceIDHeader, traceID)

			ctx := logging.SetTraceID(r.Context(), traceID)
			ctx = context.WithValue(ctx, startTimeKey, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Gateway logs every request and publishes api:request_completed with the
// matched route pattern, so metrics stay bounded by the route table.
func Gateway(bus Publisher, logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
				if websocket.IsWebSocketUpgrade(r) {
					status = http.StatusSwitchingProtocols
				}
			}
			route := routePattern(r)
			took := time.Since(start)
			traceID := logging.GetTraceID(r.Context())

			logging.WithContext(logger, r.Context()).Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", took))

			if bus == nil {
				return
			}
			done := events.APIRequestCompleted{
				Method:     r.Method,
				Route:      route,
				Status:     status,
				DurationMs: float64(took.Microseconds()) / 1000,
				TraceID:    traceID,
			}
			// The request context may already be cancelled.
			if err := bus.Publish(context.WithoutCancel(r.Context()), done.Topic(), done); err != nil {
				logger.Debug("request event not published", zap.Error(err))
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Recover turns a handler panic into a 500 envelope.
func Recover(logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.WithContext(logger, r.Context()).Error("http handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				WriteError(w, r, http.StatusInternalServerError, newError(ErrCodeInternalServer, "", nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
