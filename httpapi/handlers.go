package httpapi

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/logging"
	"github.com/fring-app/fring-core/modulemenu"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{Status: "ok"}
	if s.deps.Health == nil {
		OK(w, r, res)
		return
	}

	results := s.deps.Health(r.Context())
	res.Checks = make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			res.Status = "degraded"
			res.Checks[name] = err.Error()
			continue
		}
		res.Checks[name] = "ok"
	}
	if res.Status != "ok" {
		Write(w, r, http.StatusServiceUnavailable, res)
		return
	}
	OK(w, r, res)
}

type visibilityRequest struct {
	Code    string              `json:"code" validate:"required"`
	Modules []modulemenu.Module `json:"modules" validate:"dive"`
}

type visibilityResponse struct {
	Code    string            `json:"code"`
	Visible bool              `json:"visible"`
	Status  modulemenu.Status `json:"status"`
}

func (s *Server) menuVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := bindJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		BindFailed(w, r, err)
		return
	}
	status := s.deps.Coordinator.ModuleStatus(r.Context(), req.Code, req.Modules)
	OK(w, r, visibilityResponse{Code: req.Code, Visible: status.Visible(), Status: status})
}

type refreshResponse struct {
	Published bool `json:"published"`
}

func (s *Server) refreshMenu(w http.ResponseWriter, r *http.Request) {
	OK(w, r, refreshResponse{Published: s.deps.Coordinator.RefreshMenu(r.Context())})
}

func (s *Server) clearModuleCache(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordinator.ClearModuleCache(r.Context())
	OK(w, r, map[string]bool{"cleared": true})
}

type navigationRequest struct {
	Path string `json:"path" validate:"required,startswith=/"`
}

func (s *Server) requestNavigation(w http.ResponseWriter, r *http.Request) {
	var req navigationRequest
	if err := bindJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		BindFailed(w, r, err)
		return
	}
	s.deps.Coordinator.RequestNavigation(r.Context(), req.Path)
	Accepted(w, r, req)
}

type adminAccessResponse struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) adminAccess(w http.ResponseWriter, r *http.Request) {
	OK(w, r, adminAccessResponse{Enabled: s.deps.Coordinator.AdminAccessEnabled()})
}

func (s *Server) enableAdminAccess(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordinator.EnableAdminAccess(r.Context())
	s.adminAccess(w, r)
}

func (s *Server) disableAdminAccess(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordinator.DisableAdminAccess(r.Context())
	s.adminAccess(w, r)
}

type topicsResponse struct {
	Active []string `json:"active"`
	Known  []string `json:"known"`
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	OK(w, r, topicsResponse{
		Active: s.deps.Bus.Topics(),
		Known:  s.deps.Registry.Topics(),
	})
}

func topicParam(r *http.Request) (string, bool) {
	topic, err := url.PathUnescape(chi.URLParam(r, "topic"))
	if err != nil || strings.TrimSpace(topic) == "" {
		return "", false
	}
	return topic, true
}

type publishResponse struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) publishEvent(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		BadRequest(w, r, "invalid topic")
		return
	}
	if topic == events.TopicNewEvent {
		BadRequest(w, r, "topic "+topic+" is reserved")
		return
	}

	// An empty body publishes the zero payload.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		BindFailed(w, r, &BindError{Type: "bind_error", Message: "failed to read request body: " + err.Error()})
		return
	}
	payload, err := s.deps.Registry.Decode(topic, body)
	if err != nil {
		BindFailed(w, r, &BindError{Type: "json_error", Message: err.Error()})
		return
	}

	if err := s.deps.Bus.Publish(r.Context(), topic, payload); err != nil {
		logging.WithContext(s.logger, r.Context()).Warn("publish from api failed",
			zap.String("topic", topic), zap.Error(err))
		Fail(w, r, err)
		return
	}
	Accepted(w, r, publishResponse{Topic: topic, Subscribers: s.deps.Bus.SubscriberCount(topic)})
}

type eventView struct {
	Topic     string         `json:"topic"`
	Data      events.Payload `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

func viewOf(ev events.Event) eventView {
	return eventView{Topic: ev.Topic, Data: ev.Data, Timestamp: events.Millis(ev.Timestamp)}
}

func (s *Server) eventHistory(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		BadRequest(w, r, "invalid topic")
		return
	}
	history := s.deps.Bus.History(topic)
	out := make([]eventView, 0, len(history))
	for _, ev := range history {
		out = append(out, viewOf(ev))
	}
	OK(w, r, out)
}

// metricsSnapshot returns the latest value of every series, or the history
// of one metric name with ?name=.
func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	var list []events.MetricSample
	if name := r.URL.Query().Get("name"); name != "" {
		for _, m := range s.deps.Metrics.MetricHistory(name, nil) {
			list = append(list, m.Sample())
		}
	} else {
		for _, m := range s.deps.Metrics.Snapshot() {
			list = append(list, m.Sample())
		}
	}
	if list == nil {
		list = []events.MetricSample{}
	}
	OK(w, r, list)
}

func (s *Server) reportMetrics(w http.ResponseWriter, r *http.Request) {
	OK(w, r, s.deps.Metrics.ReportMetrics(r.Context()))
}
