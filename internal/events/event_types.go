package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketUpdated         EventType = "ticket_updated"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketCancelled       EventType = "ticket_cancelled"
	EventTicketMessageAdded    EventType = "ticket_message_added"
	EventTicketMerged          EventType = "ticket_merged"
	EventTicketsRefreshed      EventType = "tickets_refreshed"
	EventSurveyRequested       EventType = "survey_requested"
	EventResolutionBreached    EventType = "resolution_breached"
	EventFirstResponseBreached EventType = "first_response_breached"
)

// Actor encapsulates actor metadata for an event. System-originated events
// (the breach scanner) carry an empty actor.
type Actor struct {
	UserID string      `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services. Payload holds one of
// the payload types below and is decoded back to a map after an outbox round trip.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New builds an event stamped with a fresh id and the given time.
func New(eventType EventType, ticketID string, actor Actor, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	Changes []string `json:"changes"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID string `json:"assignee_id"`
}

// TicketCancelledPayload payload.
type TicketCancelledPayload struct {
	Reason *string `json:"reason,omitempty"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string                   `json:"message_id"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	AuthorID    *string                  `json:"author_id,omitempty"`
	IsInternal  bool                     `json:"is_internal"`
	BodyPreview string                   `json:"body_preview"`
}

// TicketMergedPayload payload.
type TicketMergedPayload struct {
	SecondaryIDs []string `json:"secondary_ids"`
	Reason       *string  `json:"reason,omitempty"`
}

// TicketsRefreshedPayload is the single list-level signal emitted per bulk run.
type TicketsRefreshedPayload struct {
	TicketIDs []string `json:"ticket_ids"`
}

// SurveyRequestedPayload asks the survey collaborator to contact the requester.
type SurveyRequestedPayload struct {
	RequesterID string `json:"requester_id"`
}

// BreachPayload payload for both breach kinds.
type BreachPayload struct {
	TicketNumber int64     `json:"ticket_number"`
	Deadline     time.Time `json:"deadline"`
	DetectedAt   time.Time `json:"detected_at"`
}
