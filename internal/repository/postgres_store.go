package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/spec-kit/helpdesk-sla/internal/events"
)

// JobInserter is the subset of *river.Client[pgx.Tx] used by the outbox.
type JobInserter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

type postgresStore struct {
	pool     *pgxpool.Pool
	jobs     JobInserter
	tickets  TicketRepository
	messages MessageRepository
	users    UserRepository
	policies SLAPolicyRepository
}

// NewPostgresStore builds the pgx-backed store. Events enqueued inside
// WithinTx become River jobs in the same transaction.
func NewPostgresStore(pool *pgxpool.Pool, jobs JobInserter) Store {
	return &postgresStore{
		pool:     pool,
		jobs:     jobs,
		tickets:  NewTicketRepository(pool),
		messages: NewMessageRepository(pool),
		users:    NewUserRepository(pool),
		policies: NewSLAPolicyRepository(pool),
	}
}

func (s *postgresStore) Tickets() TicketRepository { return s.tickets }
func (s *postgresStore) Messages() MessageRepository { return s.messages }
func (s *postgresStore) Users() UserRepository { return s.users }
func (s *postgresStore) Policies() SLAPolicyRepository { return s.policies }

func (s *postgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&postgresTx{
			tx:       tx,
			jobs:     s.jobs,
			tickets:  NewTicketRepository(tx),
			messages: NewMessageRepository(tx),
		})
	})
}

type postgresTx struct {
	tx       pgx.Tx
	jobs     JobInserter
	tickets  TicketRepository
	messages MessageRepository
}

func (t *postgresTx) Tickets() TicketRepository { return t.tickets }
func (t *postgresTx) Messages() MessageRepository { return t.messages }
func (t *postgresTx) Outbox() Outbox { return t }

func (t *postgresTx) Enqueue(ctx context.Context, event events.Event) error {
	if t.jobs == nil {
		return errors.New("event outbox not configured")
	}
	_, err := t.jobs.InsertTx(ctx, t.tx, events.EventJobArgs{Event: event}, nil)
	return err
}
