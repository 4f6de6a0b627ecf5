// Package lifecycle holds the ticket status state machine and its SLA clock
// arithmetic. Nothing here performs I/O; "now" is always supplied by the caller.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

// Changes is a requested mutation. Nil fields are left untouched. An empty
// AssigneeID clears the assignee.
type Changes struct {
	Status     *domain.TicketStatus
	Priority   *domain.TicketPriority
	AssigneeID *string
}

// IsEmpty reports whether nothing was requested.
func (c Changes) IsEmpty() bool {
	return c.Status == nil && c.Priority == nil && c.AssigneeID == nil
}

// Outcome is the computed result of a transition.
type Outcome struct {
	Ticket          domain.Ticket
	Log             []string
	PreviousStatus  domain.TicketStatus
	StatusChanged   bool
	PriorityChanged bool
	AssigneeChanged bool
	// Paused is the length of the vendor wait closed by this transition.
	Paused time.Duration
}

// Changed reports whether the transition did anything.
func (o Outcome) Changed() bool {
	return len(o.Log) > 0
}

// ResumedFromVendor reports whether this transition left WaitingVendor.
func (o Outcome) ResumedFromVendor() bool {
	return o.StatusChanged && o.PreviousStatus == domain.TicketStatusWaitingVendor
}

// Apply computes the ticket that results from req at now. The input ticket is
// not modified. Requests equal to the current values produce no log entry;
// a request with no effective change returns an unchanged Outcome.
func Apply(current domain.Ticket, req Changes, policies PolicyTable, now time.Time) (Outcome, error) {
	if req.Status != nil && !req.Status.Valid() {
		return Outcome{}, apperrors.NewValidationError("unknown status", map[string]any{"status": *req.Status})
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return Outcome{}, apperrors.NewValidationError("unknown priority", map[string]any{"priority": *req.Priority})
	}

	t := current.Clone()
	out := Outcome{PreviousStatus: current.Status}

	statusChange := req.Status != nil && *req.Status != current.Status
	priorityChange := req.Priority != nil && *req.Priority != current.Priority
	assigneeChange := req.AssigneeID != nil && !sameAssignee(current.AssigneeID, *req.AssigneeID)

	if !statusChange && !priorityChange && !assigneeChange {
		out.Ticket = t
		return out, nil
	}
	if current.Status.Terminal() {
		return Outcome{}, apperrors.NewInvalidState("ticket is closed", map[string]any{
			"ticket_id": current.ID,
			"status":    current.Status,
		})
	}

	effectivePriority := current.Priority
	if priorityChange {
		effectivePriority = *req.Priority
	}

	if statusChange {
		next := *req.Status
		out.StatusChanged = true
		out.Log = append(out.Log, fmt.Sprintf("Status changed from %s to %s", current.Status, next))

		if current.Status == domain.TicketStatusWaitingVendor {
			out.Paused = resume(&t, now)
			out.Log = append(out.Log, resumeDescription(t, out.Paused))
		}

		switch next {
		case domain.TicketStatusInProgress:
			if t.SLAStartedAt == nil {
				policy, err := policies.Lookup(effectivePriority)
				if err != nil {
					return Outcome{}, apperrors.NewInternalError(err)
				}
				started := now
				target := now.Add(policy.ResolutionBudget())
				t.SLAStartedAt = &started
				t.SLATarget = &target
				out.Log = append(out.Log, fmt.Sprintf("SLA Timer started, resolution due by %s", formatTime(target)))
			}
		case domain.TicketStatusWaitingVendor:
			paused := now
			t.LastPausedAt = &paused
			out.Log = append(out.Log, "SLA Timer paused while waiting on vendor")
		}
		t.Status = next
	}

	if priorityChange {
		out.PriorityChanged = true
		t.Priority = *req.Priority
		entry := fmt.Sprintf("Priority changed from %s to %s", current.Priority, t.Priority)
		if t.SLAStartedAt != nil {
			policy, err := policies.Lookup(t.Priority)
			if err != nil {
				return Outcome{}, apperrors.NewInternalError(err)
			}
			target := RecalculateTarget(*t.SLAStartedAt, policy, t.TotalPausedMinutes)
			t.SLATarget = &target
			entry += fmt.Sprintf(", SLA target recalculated to %s", formatTime(target))
		}
		out.Log = append(out.Log, entry)
	}

	if statusChange && t.Status == domain.TicketStatusResolved {
		resolved := now
		t.ResolvedAt = &resolved
		out.Log = append(out.Log, fmt.Sprintf("Ticket resolved at %s", formatTime(resolved)))
	}

	if assigneeChange {
		out.AssigneeChanged = true
		if *req.AssigneeID == "" {
			t.AssigneeID = nil
			out.Log = append(out.Log, "Assignee removed")
		} else {
			id := *req.AssigneeID
			t.AssigneeID = &id
			out.Log = append(out.Log, fmt.Sprintf("Assignee changed to %s", id))
		}
	}

	out.Ticket = t
	return out, nil
}

// RecalculateTarget derives the resolution deadline from the original start
// plus accumulated pause, independent of the current time.
func RecalculateTarget(startedAt time.Time, policy domain.SLAPolicy, pausedMinutes int) time.Time {
	return startedAt.Add(policy.ResolutionBudget()).Add(time.Duration(pausedMinutes) * time.Minute)
}

// PausedMinutes rounds a pause up to whole minutes.
func PausedMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	return int((ms + 59999) / 60000)
}

// resume closes the current vendor wait and shifts both open deadlines by its
// length. Pause time only accrues to the resolution clock once it has started.
func resume(t *domain.Ticket, now time.Time) time.Duration {
	if t.LastPausedAt == nil {
		return 0
	}
	paused := now.Sub(*t.LastPausedAt)
	if paused < 0 {
		paused = 0
	}
	t.LastPausedAt = nil

	if t.SLAStartedAt != nil && t.SLATarget != nil {
		t.TotalPausedMinutes += PausedMinutes(paused)
		shifted := t.SLATarget.Add(paused)
		t.SLATarget = &shifted
	}
	if t.FirstResponseTarget != nil && t.FirstResponseAt == nil {
		shifted := t.FirstResponseTarget.Add(paused)
		t.FirstResponseTarget = &shifted
	}
	return paused
}

func resumeDescription(t domain.Ticket, paused time.Duration) string {
	entry := fmt.Sprintf("SLA Timer resumed after %d minutes paused", PausedMinutes(paused))
	if t.SLATarget != nil {
		entry += fmt.Sprintf(", resolution due by %s", formatTime(*t.SLATarget))
	}
	if t.FirstResponseTarget != nil && t.FirstResponseAt == nil {
		entry += fmt.Sprintf(", first response due by %s", formatTime(*t.FirstResponseTarget))
	}
	return entry
}

func sameAssignee(current *string, requested string) bool {
	if current == nil {
		return requested == ""
	}
	return *current == requested
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
