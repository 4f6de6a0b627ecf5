package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update saves ticket when its version still matches the stored one and
	// bumps the version. Breach flags are never lowered by an update.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number int64) (*domain.Ticket, error)
	// ListResolutionCandidates returns tickets in statuses whose running
	// resolution clock expired before the given time and are not yet overdue.
	ListResolutionCandidates(ctx context.Context, statuses []domain.TicketStatus, before time.Time) ([]domain.Ticket, error)
	// ListFirstResponseCandidates returns unanswered tickets outside excluded
	// statuses whose first-response deadline expired before the given time.
	ListFirstResponseCandidates(ctx context.Context, excluded []domain.TicketStatus, before time.Time) ([]domain.Ticket, error)
	// MarkOverdue raises is_overdue and reports whether this call raised it.
	MarkOverdue(ctx context.Context, id string) (bool, error)
	// MarkFirstResponseBreached raises is_first_response_breached and reports
	// whether this call raised it.
	MarkFirstResponseBreached(ctx context.Context, id string) (bool, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, number, requester_id, assignee_id, title, status, priority,
               sla_started_at, sla_target, total_paused_minutes, last_paused_at, is_overdue,
               first_response_target, first_response_at, is_first_response_breached,
               resolved_at, version, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (requester_id, assignee_id, title, status, priority,
            sla_started_at, sla_target, total_paused_minutes, last_paused_at,
            first_response_target, first_response_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, number, version, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.RequesterID,
		ticket.AssigneeID,
		ticket.Title,
		ticket.Status,
		ticket.Priority,
		ticket.SLAStartedAt,
		ticket.SLATarget,
		ticket.TotalPausedMinutes,
		ticket.LastPausedAt,
		ticket.FirstResponseTarget,
		ticket.FirstResponseAt,
	).Scan(&ticket.ID, &ticket.Number, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET assignee_id=$1, status=$2, priority=$3,
            sla_started_at=$4, sla_target=$5, total_paused_minutes=GREATEST(total_paused_minutes, $6),
            last_paused_at=$7, is_overdue=(is_overdue OR $8),
            first_response_target=$9, first_response_at=COALESCE(first_response_at, $10),
            is_first_response_breached=(is_first_response_breached OR $11),
            resolved_at=$12, version=version+1, updated_at=NOW()
        WHERE id=$13 AND version=$14
        RETURNING version, updated_at, is_overdue, is_first_response_breached`
	err := r.db.QueryRow(ctx, query,
		ticket.AssigneeID,
		ticket.Status,
		ticket.Priority,
		ticket.SLAStartedAt,
		ticket.SLATarget,
		ticket.TotalPausedMinutes,
		ticket.LastPausedAt,
		ticket.IsOverdue,
		ticket.FirstResponseTarget,
		ticket.FirstResponseAt,
		ticket.IsFirstResponseBreached,
		ticket.ResolvedAt,
		ticket.ID,
		ticket.Version,
	).Scan(&ticket.Version, &ticket.UpdatedAt, &ticket.IsOverdue, &ticket.IsFirstResponseBreached)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrVersionConflict
	}
	return pgx.ErrNoRows
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE number=$1`, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListResolutionCandidates(ctx context.Context, statuses []domain.TicketStatus, before time.Time) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status = ANY($1) AND is_overdue = false
          AND sla_target IS NOT NULL AND sla_started_at IS NOT NULL
          AND sla_target < $2
        ORDER BY sla_target ASC`
	rows, err := r.db.Query(ctx, query, statusStrings(statuses), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListFirstResponseCandidates(ctx context.Context, excluded []domain.TicketStatus, before time.Time) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE first_response_at IS NULL AND first_response_target IS NOT NULL
          AND is_first_response_breached = false
          AND status <> ALL($1)
          AND first_response_target < $2
        ORDER BY first_response_target ASC`
	rows, err := r.db.Query(ctx, query, statusStrings(excluded), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) MarkOverdue(ctx context.Context, id string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET is_overdue=true, version=version+1, updated_at=NOW() WHERE id=$1 AND is_overdue=false`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) MarkFirstResponseBreached(ctx context.Context, id string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET is_first_response_breached=true, version=version+1, updated_at=NOW() WHERE id=$1 AND is_first_response_breached=false`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.Title,
		&ticket.Status,
		&ticket.Priority,
		&ticket.SLAStartedAt,
		&ticket.SLATarget,
		&ticket.TotalPausedMinutes,
		&ticket.LastPausedAt,
		&ticket.IsOverdue,
		&ticket.FirstResponseTarget,
		&ticket.FirstResponseAt,
		&ticket.IsFirstResponseBreached,
		&ticket.ResolvedAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	return ticket, err
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
