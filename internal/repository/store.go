package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/helpdesk-sla/internal/events"
)

// ErrVersionConflict is returned when a ticket was modified since it was loaded.
var ErrVersionConflict = errors.New("ticket version conflict")

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Outbox records domain events inside the current unit of work. Enqueued
// events are delivered only if the unit of work commits.
type Outbox interface {
	Enqueue(ctx context.Context, event events.Event) error
}

// Tx is the write side of a unit of work.
type Tx interface {
	Tickets() TicketRepository
	Messages() MessageRepository
	Outbox() Outbox
}

// Store is the ticket store consumed by the lifecycle engine.
type Store interface {
	Tickets() TicketRepository
	Messages() MessageRepository
	Users() UserRepository
	Policies() SLAPolicyRepository
	// WithinTx runs fn in one transaction. Returning an error rolls back every
	// write and discards enqueued events.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
