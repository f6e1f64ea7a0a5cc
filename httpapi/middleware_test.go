package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/logging"
)

func TestTraceID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := TraceID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(TraceIDHeader))
}

func TestRecover_WritesEnvelopeAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := TraceID()(Recover(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode[any](t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeInternalServer, env.Error.Code)
	assert.NotEmpty(t, env.Meta.TraceID)

	entries := logs.FilterMessage("http handler panic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["panic"])
}

func TestGateway_LogsRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := TraceID()(Gateway(nil, zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "unmatched", fields["route"])
	assert.NotEmpty(t, fields["trace_id"])
}

func TestFail_MapsErrorTypes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"validation", errors.NewValidation("bad code"), http.StatusBadRequest, ErrCodeValidationFailed},
		{"not found", errors.NewNotFound("topic", "x"), http.StatusNotFound, ErrCodeNotFound},
		{"storage", errors.NewStorage("set", "k", assert.AnError), http.StatusInternalServerError, ErrCodeStorageService},
		{"transport", errors.NewTransport("event_bus:x", assert.AnError), http.StatusBadGateway, ErrCodeExternalService},
		{"plain", assert.AnError, http.StatusInternalServerError, ErrCodeInternalServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[any](t, rec).Error.Code)
		})
	}
}
