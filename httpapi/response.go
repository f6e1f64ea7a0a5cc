package httpapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/json"
	"github.com/fring-app/fring-core/logging"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
	Meta  Meta   `json:"meta"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Meta struct {
	TraceID string `json:"traceId,omitempty"`
	// Took is the handling time in milliseconds.
	Took int64 `json:"took"`
}

// 错误码: 4xxx 客户端错误, 5xxx 服务端错误
const (
	ErrCodeBadRequest       = 4000
	ErrCodeBindFailed       = 4001
	ErrCodeValidationFailed = 4002
	ErrCodeNotFound         = 4003
	ErrCodeRouteNotFound    = 4004
	ErrCodeTooManyRequests  = 4009
	ErrCodeMethodNotAllowed = 4010

	ErrCodeInternalServer  = 5000
	ErrCodeStorageService  = 5004
	ErrCodeExternalService = 5005
	ErrCodeUnavailable     = 5007
)

var errorMessages = map[int]string{
	ErrCodeBadRequest:       "Bad Request",
	ErrCodeBindFailed:       "Invalid Request Body",
	ErrCodeValidationFailed: "Validation Failed",
	ErrCodeNotFound:         "Resource Not Found",
	ErrCodeRouteNotFound:    "Route Not Found",
	ErrCodeMethodNotAllowed: "Method Not Allowed",
	ErrCodeTooManyRequests:  "Too Many Requests",
	ErrCodeInternalServer:   "Internal Server Error",
	ErrCodeStorageService:   "Storage Service Error",
	ErrCodeExternalService:  "External Service Error",
	ErrCodeUnavailable:      "Service Unavailable",
}

// ErrorMessage returns the default message for an error code.
func ErrorMessage(code int) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Unknown Error"
}

func newError(code int, message string, details any) Error {
	if message == "" {
		message = ErrorMessage(code)
	}
	return Error{Code: code, Message: message, Details: details}
}

func metaFor(r *http.Request) Meta {
	m := Meta{TraceID: logging.GetTraceID(r.Context())}
	if start, ok := r.Context().Value(startTimeKey).(time.Time); ok {
		m.Took = time.Since(start).Milliseconds()
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":5000,"message":"encode failed"},"meta":{"took":0}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// Write sends a success envelope.
func Write(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, &Response{Data: data, Meta: metaFor(r)})
}

// WriteError sends an error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, e Error) {
	writeJSON(w, status, &Response{Error: &e, Meta: metaFor(r)})
}

func OK(w http.ResponseWriter, r *http.Request, data any) {
	Write(w, r, http.StatusOK, data)
}

func Accepted(w http.ResponseWriter, r *http.Request, data any) {
	Write(w, r, http.StatusAccepted, data)
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, newError(ErrCodeBadRequest, message, nil))
}

func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusNotFound, newError(ErrCodeNotFound, message, nil))
}

// BindFailed reports a body that could not be decoded or validated.
func BindFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case ValidationErrors:
		WriteError(w, r, http.StatusUnprocessableEntity, newError(ErrCodeValidationFailed, "", []BindError(e)))
	case *BindError:
		WriteError(w, r, http.StatusBadRequest, newError(ErrCodeBindFailed, e.Message, nil))
	default:
		WriteError(w, r, http.StatusBadRequest, newError(ErrCodeBindFailed, err.Error(), nil))
	}
}

// Fail maps an application error onto a status and code.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, eventbus.ErrBusClosed) {
		WriteError(w, r, http.StatusServiceUnavailable, newError(ErrCodeUnavailable, err.Error(), nil))
		return
	}
	appErr := errors.FromError(err)
	code, status := ErrCodeInternalServer, appErr.Status()
	switch appErr.Type {
	case errors.ErrorTypeValidation:
		code = ErrCodeValidationFailed
	case errors.ErrorTypeNotFound:
		code = ErrCodeNotFound
	case errors.ErrorTypeStorage:
		code = ErrCodeStorageService
	case errors.ErrorTypeTransport:
		code = ErrCodeExternalService
	case errors.ErrorTypeClosed:
		code = ErrCodeUnavailable
		if appErr.HTTPStatus == 0 {
			status = http.StatusServiceUnavailable
		}
	}
	var details any
	if len(appErr.Details) > 0 {
		details = appErr.Details
	}
	WriteError(w, r, status, newError(code, appErr.Error(), details))
}
