package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title    string                `json:"title"`
	Body     string                `json:"body"`
	Priority domain.TicketPriority `json:"priority"`
}

// UpdateTicketRequest payload. Omitted fields are left untouched; an empty
// assignee_id clears the assignee.
type UpdateTicketRequest struct {
	Status     *domain.TicketStatus   `json:"status"`
	Priority   *domain.TicketPriority `json:"priority"`
	AssigneeID *string                `json:"assignee_id"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// CancelTicketRequest payload.
type CancelTicketRequest struct {
	Reason *string `json:"reason"`
}

// ReplyRequest payload.
type ReplyRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal"`
}

// BulkUpdateRequest payload.
type BulkUpdateRequest struct {
	TicketIDs []string `json:"ticket_ids"`
	UpdateTicketRequest
}

// BulkUpdateResponse reports a batch outcome.
type BulkUpdateResponse struct {
	UpdatedCount int      `json:"updated_count"`
	FailedIDs    []string `json:"failed_ids"`
}

// MergeRequest payload.
type MergeRequest struct {
	SecondaryIDs []string `json:"secondary_ids"`
	Reason       *string  `json:"reason"`
}

// TicketResponse exposes the ticket with its SLA clocks.
type TicketResponse struct {
	ID                      string                `json:"id"`
	Number                  int64                 `json:"number"`
	RequesterID             string                `json:"requester_id"`
	AssigneeID              *string               `json:"assignee_id"`
	Title                   string                `json:"title"`
	Status                  domain.TicketStatus   `json:"status"`
	Priority                domain.TicketPriority `json:"priority"`
	SLAStartedAt            *time.Time            `json:"sla_started_at"`
	SLATarget               *time.Time            `json:"sla_target"`
	TotalPausedMinutes      int                   `json:"total_paused_minutes"`
	LastPausedAt            *time.Time            `json:"last_paused_at"`
	IsOverdue               bool                  `json:"is_overdue"`
	FirstResponseTarget     *time.Time            `json:"first_response_target"`
	FirstResponseAt         *time.Time            `json:"first_response_at"`
	IsFirstResponseBreached bool                  `json:"is_first_response_breached"`
	ResolvedAt              *time.Time            `json:"resolved_at"`
	Version                 int64                 `json:"version"`
	CreatedAt               time.Time             `json:"created_at"`
	UpdatedAt               time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketResponse
	Messages []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID                 string                   `json:"id"`
	AuthorType         domain.MessageAuthorType `json:"author_type"`
	AuthorID           *string                  `json:"author_id"`
	Body               string                   `json:"body"`
	IsSystemMessage    bool                     `json:"is_system_message"`
	IsInternal         bool                     `json:"is_internal"`
	MergedFromTicketID *string                  `json:"merged_from_ticket_id"`
	CreatedAt          time.Time                `json:"created_at"`
}

// ReplyResponse carries the new message and the ticket after side effects.
type ReplyResponse struct {
	Message TicketMessageResponse `json:"message"`
	Ticket  TicketResponse        `json:"ticket"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                      t.ID,
		Number:                  t.Number,
		RequesterID:             t.RequesterID,
		AssigneeID:              t.AssigneeID,
		Title:                   t.Title,
		Status:                  t.Status,
		Priority:                t.Priority,
		SLAStartedAt:            t.SLAStartedAt,
		SLATarget:               t.SLATarget,
		TotalPausedMinutes:      t.TotalPausedMinutes,
		LastPausedAt:            t.LastPausedAt,
		IsOverdue:               t.IsOverdue,
		FirstResponseTarget:     t.FirstResponseTarget,
		FirstResponseAt:         t.FirstResponseAt,
		IsFirstResponseBreached: t.IsFirstResponseBreached,
		ResolvedAt:              t.ResolvedAt,
		Version:                 t.Version,
		CreatedAt:               t.CreatedAt,
		UpdatedAt:               t.UpdatedAt,
	}
}

// NewTicketMessageResponse maps a message.
func NewTicketMessageResponse(m domain.TicketMessage) TicketMessageResponse {
	return TicketMessageResponse{
		ID:                 m.ID,
		AuthorType:         m.AuthorType,
		AuthorID:           m.AuthorID,
		Body:               m.Body,
		IsSystemMessage:    m.IsSystemMessage,
		IsInternal:         m.IsInternal,
		MergedFromTicketID: m.MergedFromTicketID,
		CreatedAt:          m.CreatedAt,
	}
}
