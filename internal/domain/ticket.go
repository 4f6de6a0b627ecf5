package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusTodo          TicketStatus = "TODO"
	TicketStatusInProgress    TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingVendor TicketStatus = "WAITING_VENDOR"
	TicketStatusResolved      TicketStatus = "RESOLVED"
	TicketStatusCancelled     TicketStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusTodo, TicketStatusInProgress, TicketStatusWaitingVendor, TicketStatusResolved, TicketStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further timer mutation may happen in s.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusCancelled
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// Priorities lists every priority level in ascending urgency.
var Priorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityCritical,
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	for _, candidate := range Priorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          string
	Number      int64
	RequesterID string
	AssigneeID  *string
	Title       string
	Status      TicketStatus
	Priority    TicketPriority

	SLAStartedAt       *time.Time
	SLATarget          *time.Time
	TotalPausedMinutes int
	LastPausedAt       *time.Time
	IsOverdue          bool

	FirstResponseTarget     *time.Time
	FirstResponseAt         *time.Time
	IsFirstResponseBreached bool

	ResolvedAt *time.Time
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy so callers can mutate timer fields safely.
func (t Ticket) Clone() Ticket {
	out := t
	out.AssigneeID = cloneString(t.AssigneeID)
	out.SLAStartedAt = cloneTime(t.SLAStartedAt)
	out.SLATarget = cloneTime(t.SLATarget)
	out.LastPausedAt = cloneTime(t.LastPausedAt)
	out.FirstResponseTarget = cloneTime(t.FirstResponseTarget)
	out.FirstResponseAt = cloneTime(t.FirstResponseAt)
	out.ResolvedAt = cloneTime(t.ResolvedAt)
	return out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
