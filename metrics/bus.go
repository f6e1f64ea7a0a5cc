package metrics

import (
	"context"
	"strconv"

	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/events"
)

// Series recorded from bus traffic.
const (
	DeliveriesTotal   = "eventbus_deliveries_total"
	APICallsTotal     = "api_calls_total"
	APICallDurationMs = "api_call_duration_ms"
)

// DeliveryMiddleware counts every delivery per topic. It never stops one.
func DeliveryMiddleware(s *Service) eventbus.Middleware {
	return eventbus.MiddlewareFunc(func(_ context.Context, event *events.Event) eventbus.Verdict {
		s.IncrementCounter(DeliveriesTotal, 1, map[string]string{"topic": event.Topic})
		return eventbus.Continue
	})
}

// AttachGatewayTap records the HTTP gateway's api:request_completed events as
// a call counter and a duration histogram.
func (s *Service) AttachGatewayTap(bus *eventbus.Bus) eventbus.Subscription {
	return bus.Subscribe(events.TopicAPIRequestCompleted, func(_ context.Context, event events.Event) error {
		req, ok := event.Data.(events.APIRequestCompleted)
		if !ok {
			return nil
		}
		tags := map[string]string{
			"method": req.Method,
			"route":  req.Route,
			"status": strconv.Itoa(req.Status),
		}
		s.IncrementCounter(APICallsTotal, 1, tags)
		s.RecordHistogram(APICallDurationMs, req.DurationMs, tags)
		return nil
	})
}
