package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

// EventTransitionExecuted is published after every committed transition.
const EventTransitionExecuted = "transition_executed"

// EventBus is satisfied by NATSClient.
type EventBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes workflow events to NATS for consumption by
// the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g.
// notifications.plots.transition_executed
//
// Publishing is non-fatal: errors are logged and never reach the caller, so a
// broker outage never fails a transition that has already committed.
type NotificationPublisher struct {
	bus    EventBus
	prefix string
	log    *logger.Logger
}

var _ workflow.Publisher = (*NotificationPublisher)(nil)

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	ActorRole    string         `json:"actor_role,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Category     string         `json:"category"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil bus disables publishing.
func NewNotificationPublisher(bus EventBus, prefix string, log *logger.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "notifications.plots"
	}
	return &NotificationPublisher{bus: bus, prefix: prefix, log: log.WithComponent("notifications")}
}

// PublishTransition publishes a transition_executed event.
func (p *NotificationPublisher) PublishTransition(ctx context.Context, ev workflow.TransitionEvent) {
	if p.bus == nil {
		return
	}

	payload := map[string]any{
		"file_no":    ev.FileNo,
		"from_stage": ev.FromStage,
		"to_stage":   ev.ToStage,
		"guard":      ev.Guard,
		"sequence":   ev.Sequence,
	}
	if ev.Remarks != "" {
		payload["remarks"] = ev.Remarks
	}

	event := &NotificationEvent{
		EventType:    EventTransitionExecuted,
		ActorID:      ev.ActorID,
		ActorRole:    ev.ActorRole,
		ResourceType: "plot_transfer_case",
		ResourceID:   ev.CaseID,
		Category:     "plot_transfer_workflow",
		OccurredAt:   ev.OccurredAt,
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("case_id", ev.CaseID).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, EventTransitionExecuted)
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("case_id", ev.CaseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("case_id", ev.CaseID).
		Str("to_stage", ev.ToStage).
		Msg("notification: event published")
}
