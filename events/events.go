// Package events is the catalogue of topics flowing through the event bus.
//
// Every known topic has a payload struct that reports its own topic name, so
// an Event is a tagged union: the tag is Payload.Topic() and the concrete type
// carries the strongly-typed data. Topics without a registered payload travel
// as Raw JSON.
package events

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Topic names.
const (
	// TopicNewEvent announces the first publication of a topic.
	TopicNewEvent = "eventbus:newevent"

	TopicMenuUpdated         = "module_menu:menu_updated"
	TopicModuleStatusChanged = "module_menu:module_status_changed"
	TopicAdminAccessGranted  = "module_menu:admin_access_granted"
	TopicAdminAccessRevoked  = "module_menu:admin_access_revoked"
	TopicNavigationRequested = "module_menu:navigation_requested"

	// Produced by the module-management and user-management subsystems.
	TopicModulesStatusChanged   = "modules:status_changed"
	TopicModuleStatusUpdated    = "module:status_updated"
	TopicUserAdminStatusChanged = "users:admin_status_changed"

	TopicMetricsReport       = "metrics:report"
	TopicHistogramRecorded   = "metrics:histogram_recorded"
	TopicTimerStopped        = "metrics:timer_stopped"
	TopicAPIRequestCompleted = "api:request_completed"
)

// GlobalChannelPrefix prefixes the broadcast channel of every topic.
const GlobalChannelPrefix = "event_bus:"

// GlobalChannel returns the cross-instance channel name for topic.
func GlobalChannel(topic string) string {
	return GlobalChannelPrefix + topic
}

// Payload is implemented by every event body.
type Payload interface {
	Topic() string
}

// Event is one publication on the bus.
type Event struct {
	Topic     string
	Data      Payload
	Timestamp time.Time
}

// Raw is an opaque payload for topics without a registered type.
type Raw struct {
	Name string              `json:"-"`
	Body jsoniter.RawMessage `json:"body,omitempty"`
}

func (r Raw) Topic() string { return r.Name }

// MarshalJSON writes the raw body unchanged.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	return r.Body, nil
}

// NewRaw encodes v as an opaque payload for topic.
func NewRaw(topic string, v any) (Raw, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Raw{}, err
	}
	return Raw{Name: topic, Body: body}, nil
}

// Decode unmarshals the raw body into v.
func (r Raw) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

type NewTopic struct {
	EventName string `json:"eventName"`
}

func (NewTopic) Topic() string { return TopicNewEvent }

type MenuUpdated struct {
	Timestamp int64 `json:"timestamp"`
}

func (MenuUpdated) Topic() string { return TopicMenuUpdated }

type ModuleStatusChanged struct {
	ModuleCode string `json:"moduleCode"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
}

func (ModuleStatusChanged) Topic() string { return TopicModuleStatusChanged }

type AdminAccessGranted struct {
	Timestamp int64 `json:"timestamp"`
}

func (AdminAccessGranted) Topic() string { return TopicAdminAccessGranted }

type AdminAccessRevoked struct {
	Timestamp int64 `json:"timestamp"`
}

func (AdminAccessRevoked) Topic() string { return TopicAdminAccessRevoked }

type NavigationRequested struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

func (NavigationRequested) Topic() string { return TopicNavigationRequested }

// ModulesStatusChanged is the upstream notice that a module changed status.
type ModulesStatusChanged struct {
	ModuleCode string `json:"moduleCode"`
	Status     string `json:"status"`
}

func (ModulesStatusChanged) Topic() string { return TopicModulesStatusChanged }

// ModuleStatusUpdated is the upstream notice keyed by module row id.
type ModuleStatusUpdated struct {
	ModuleID   string `json:"moduleId"`
	ModuleCode string `json:"moduleCode,omitempty"`
	Status     string `json:"status"`
}

func (ModuleStatusUpdated) Topic() string { return TopicModuleStatusUpdated }

// Key returns the module code, or the id when no code was sent.
func (m ModuleStatusUpdated) Key() string {
	if m.ModuleCode != "" {
		return m.ModuleCode
	}
	return m.ModuleID
}

type UserAdminStatusChanged struct {
	UserID  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin"`
}

func (UserAdminStatusChanged) Topic() string { return TopicUserAdminStatusChanged }

// MetricSample is the wire form of one metric in a report.
type MetricSample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Type      string            `json:"type"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

type MetricsReport struct {
	Metrics   []MetricSample `json:"metrics"`
	Timestamp int64          `json:"timestamp"`
}

func (MetricsReport) Topic() string { return TopicMetricsReport }

type HistogramRecorded struct {
	MetricSample
}

func (HistogramRecorded) Topic() string { return TopicHistogramRecorded }

type TimerStopped struct {
	Name       string            `json:"name"`
	Tags       map[string]string `json:"tags,omitempty"`
	DurationMs float64           `json:"durationMs"`
	Timestamp  int64             `json:"timestamp"`
}

func (TimerStopped) Topic() string { return TopicTimerStopped }

// APIRequestCompleted is emitted by the HTTP gateway after each request.
type APIRequestCompleted struct {
	Method     string  `json:"method"`
	Route      string  `json:"route"`
	Status     int     `json:"status"`
	DurationMs float64 `json:"durationMs"`
	TraceID    string  `json:"traceId,omitempty"`
}

func (APIRequestCompleted) Topic() string { return TopicAPIRequestCompleted }

// Millis returns t as Unix milliseconds, the timestamp unit of every payload.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
