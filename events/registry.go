package events

import (
	"fmt"
	"sort"
	"sync"
)

// Factory returns a pointer to a fresh payload value for decoding.
type Factory func() Payload

// Registry maps a topic to the payload type that travels on it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in topic registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TopicNewEvent, func() Payload { return &NewTopic{} })
	r.Register(TopicMenuUpdated, func() Payload { return &MenuUpdated{} })
	r.Register(TopicModuleStatusChanged, func() Payload { return &ModuleStatusChanged{} })
	r.Register(TopicAdminAccessGranted, func() Payload { return &AdminAccessGranted{} })
	r.Register(TopicAdminAccessRevoked, func() Payload { return &AdminAccessRevoked{} })
	r.Register(TopicNavigationRequested, func() Payload { return &NavigationRequested{} })
	r.Register(TopicModulesStatusChanged, func() Payload { return &ModulesStatusChanged{} })
	r.Register(TopicModuleStatusUpdated, func() Payload { return &ModuleStatusUpdated{} })
	r.Register(TopicUserAdminStatusChanged, func() Payload { return &UserAdminStatusChanged{} })
	r.Register(TopicMetricsReport, func() Payload { return &MetricsReport{} })
	r.Register(TopicHistogramRecorded, func() Payload { return &HistogramRecorded{} })
	r.Register(TopicTimerStopped, func() Payload { return &TimerStopped{} })
	r.Register(TopicAPIRequestCompleted, func() Payload { return &APIRequestCompleted{} })
	return r
}

// Register binds topic to factory, replacing any previous binding.
func (r *Registry) Register(topic string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[topic] = factory
}

// Known reports whether topic has a registered payload type.
func (r *Registry) Known(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[topic]
	return ok
}

// Topics lists registered topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for topic := range r.factories {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Decode turns wire bytes into the typed payload for topic. Unknown topics
// decode to Raw and must carry a valid JSON document or nothing. The
// returned payload is a value, not a pointer.
func (r *Registry) Decode(topic string, data []byte) (Payload, error) {
	r.mu.RLock()
	factory, ok := r.factories[topic]
	r.mu.RUnlock()

	if !ok {
		if len(data) > 0 && !json.Valid(data) {
			return nil, fmt.Errorf("decode %s payload: body is not valid JSON", topic)
		}
		body := make([]byte, len(data))
		copy(body, data)
		return Raw{Name: topic, Body: body}, nil
	}

	ptr := factory()
	if len(data) > 0 {
		if err := json.Unmarshal(data, ptr); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", topic, err)
		}
	}
	return deref(ptr), nil
}

// Encode serialises a payload for the wire.
func Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// deref converts the factory's pointer into the value form subscribers match on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *NewTopic:
		return *v
	case *MenuUpdated:
		return *v
	case *ModuleStatusChanged:
		return *v
	case *AdminAccessGranted:
		return *v
	case *AdminAccessRevoked:
		return *v
	case *NavigationRequested:
		return *v
	case *ModulesStatusChanged:
		return *v
	case *ModuleStatusUpdated:
		return *v
	case *UserAdminStatusChanged:
		return *v
	case *MetricsReport:
		return *v
	case *HistogramRecorded:
		return *v
	case *TimerStopped:
		return *v
	case *APIRequestCompleted:
		return *v
	}
	return p
}
