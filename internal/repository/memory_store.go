package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
)

// MemoryStore is an in-memory Store. Transactions are serialized and staged;
// their events reach the dispatcher only after commit.
type MemoryStore struct {
	mu         sync.RWMutex
	txMu       sync.Mutex
	tickets    map[string]domain.Ticket
	messages   []domain.TicketMessage
	users      map[string]domain.User
	policies   map[domain.TicketPriority]domain.SLAPolicy
	faults     map[string]error
	nextNumber int64
	dispatcher events.Dispatcher
	clock      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for created/updated stamps.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

// NewMemoryStore creates a store that publishes committed events to dispatcher.
func NewMemoryStore(dispatcher events.Dispatcher, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tickets:    make(map[string]domain.Ticket),
		users:      make(map[string]domain.User),
		policies:   make(map[domain.TicketPriority]domain.SLAPolicy),
		faults:     make(map[string]error),
		nextNumber: 1000,
		dispatcher: dispatcher,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectFault makes every write touching ticketID fail with err. A nil err clears it.
func (s *MemoryStore) InjectFault(ticketID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, ticketID)
		return
	}
	s.faults[ticketID] = err
}

func (s *MemoryStore) Tickets() TicketRepository     { return &memTickets{store: s} }
func (s *MemoryStore) Messages() MessageRepository   { return &memMessages{store: s} }
func (s *MemoryStore) Users() UserRepository         { return &memUsers{store: s} }
func (s *MemoryStore) Policies() SLAPolicyRepository { return &memPolicies{store: s} }

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	tx := &memTx{
		store:   s,
		tickets: make(map[string]domain.Ticket),
	}
	err := fn(tx)
	if err == nil {
		s.commit(tx)
	}
	s.txMu.Unlock()
	if err != nil {
		return err
	}
	if s.dispatcher != nil {
		for _, ev := range tx.events {
			_ = s.dispatcher.Publish(ctx, ev)
		}
	}
	return nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range tx.tickets {
		s.tickets[id] = t
	}
	s.messages = append(s.messages, tx.messages...)
}

func (s *MemoryStore) fault(id string) error {
	return s.faults[id]
}

// ticket store primitives shared by the direct and transactional views; the
// caller holds s.mu.

func (s *MemoryStore) createTicketLocked(ticket *domain.Ticket) {
	now := s.clock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.Number == 0 {
		s.nextNumber++
		ticket.Number = s.nextNumber
	}
	ticket.Version = 1
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	s.tickets[ticket.ID] = ticket.Clone()
}

func mergeForUpdate(stored domain.Ticket, ticket *domain.Ticket, now time.Time) (domain.Ticket, error) {
	if stored.Version != ticket.Version {
		return domain.Ticket{}, ErrVersionConflict
	}
	next := ticket.Clone()
	next.IsOverdue = stored.IsOverdue || ticket.IsOverdue
	next.IsFirstResponseBreached = stored.IsFirstResponseBreached || ticket.IsFirstResponseBreached
	if stored.FirstResponseAt != nil {
		next.FirstResponseAt = stored.Clone().FirstResponseAt
	}
	if stored.TotalPausedMinutes > next.TotalPausedMinutes {
		next.TotalPausedMinutes = stored.TotalPausedMinutes
	}
	next.Number = stored.Number
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	next.UpdatedAt = now

	ticket.Version = next.Version
	ticket.UpdatedAt = next.UpdatedAt
	ticket.IsOverdue = next.IsOverdue
	ticket.IsFirstResponseBreached = next.IsFirstResponseBreached
	return next, nil
}

func resolutionCandidate(t domain.Ticket, statuses []domain.TicketStatus, before time.Time) bool {
	if t.IsOverdue || t.SLATarget == nil || t.SLAStartedAt == nil || !t.SLATarget.Before(before) {
		return false
	}
	return containsStatus(statuses, t.Status)
}

func firstResponseCandidate(t domain.Ticket, excluded []domain.TicketStatus, before time.Time) bool {
	if t.FirstResponseAt != nil || t.FirstResponseTarget == nil || t.IsFirstResponseBreached {
		return false
	}
	if !t.FirstResponseTarget.Before(before) {
		return false
	}
	return !containsStatus(excluded, t.Status)
}

func containsStatus(set []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

type memTickets struct {
	store *MemoryStore
}

func (r *memTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.createTicketLocked(ticket)
	return nil
}

func (r *memTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fault(ticket.ID); err != nil {
		return err
	}
	stored, ok := r.store.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	next, err := mergeForUpdate(stored, ticket, r.store.clock())
	if err != nil {
		return err
	}
	r.store.tickets[ticket.ID] = next
	return nil
}

func (r *memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := t.Clone()
	return &c, nil
}

func (r *memTickets) GetByNumber(_ context.Context, number int64) (*domain.Ticket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, t := range r.store.tickets {
		if t.Number == number {
			c := t.Clone()
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTickets) ListResolutionCandidates(_ context.Context, statuses []domain.TicketStatus, before time.Time) ([]domain.Ticket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range r.store.tickets {
		if resolutionCandidate(t, statuses, before) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLATarget.Before(*out[j].SLATarget) })
	return out, nil
}

func (r *memTickets) ListFirstResponseCandidates(_ context.Context, excluded []domain.TicketStatus, before time.Time) ([]domain.Ticket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range r.store.tickets {
		if firstResponseCandidate(t, excluded, before) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstResponseTarget.Before(*out[j].FirstResponseTarget) })
	return out, nil
}

func (r *memTickets) MarkOverdue(_ context.Context, id string) (bool, error) {
	return r.store.flip(id, func(t *domain.Ticket) *bool { return &t.IsOverdue })
}

func (r *memTickets) MarkFirstResponseBreached(_ context.Context, id string) (bool, error) {
	return r.store.flip(id, func(t *domain.Ticket) *bool { return &t.IsFirstResponseBreached })
}

func (s *MemoryStore) flip(id string, field func(*domain.Ticket) *bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(id); err != nil {
		return false, err
	}
	t, ok := s.tickets[id]
	if !ok {
		return false, nil
	}
	flag := field(&t)
	if *flag {
		return false, nil
	}
	*flag = true
	t.Version++
	t.UpdatedAt = s.clock()
	s.tickets[id] = t
	return true, nil
}

type memMessages struct {
	store *MemoryStore
}

func (r *memMessages) Create(_ context.Context, msg *domain.TicketMessage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stampMessage(msg, r.store.clock())
	r.store.messages = append(r.store.messages, *msg)
	return nil
}

func (r *memMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return filterMessages(r.store.messages, ticketID), nil
}

func stampMessage(msg *domain.TicketMessage, now time.Time) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
}

func filterMessages(all []domain.TicketMessage, ticketID string) []domain.TicketMessage {
	var out []domain.TicketMessage
	for _, m := range all {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memUsers struct {
	store *MemoryStore
}

func (r *memUsers) Create(_ context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.store.clock()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.store.users[user.ID] = *user
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	u, ok := r.store.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

type memPolicies struct {
	store *MemoryStore
}

func (r *memPolicies) List(_ context.Context) ([]domain.SLAPolicy, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.SLAPolicy, 0, len(r.store.policies))
	for _, p := range domain.Priorities {
		if policy, ok := r.store.policies[p]; ok {
			out = append(out, policy)
		}
	}
	return out, nil
}

func (r *memPolicies) Upsert(_ context.Context, policy *domain.SLAPolicy) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	policy.UpdatedAt = r.store.clock()
	r.store.policies[policy.Priority] = *policy
	return nil
}

func (r *memPolicies) SeedIfEmpty(ctx context.Context, defaults []domain.SLAPolicy) (bool, error) {
	r.store.mu.RLock()
	empty := len(r.store.policies) == 0
	r.store.mu.RUnlock()
	if !empty {
		return false, nil
	}
	for i := range defaults {
		p := defaults[i]
		if err := r.Upsert(ctx, &p); err != nil {
			return false, err
		}
	}
	return true, nil
}

// memTx stages writes until commit. Reads see staged state first.
type memTx struct {
	store    *MemoryStore
	tickets  map[string]domain.Ticket
	messages []domain.TicketMessage
	events   []events.Event
}

func (tx *memTx) Tickets() TicketRepository   { return &memTxTickets{tx: tx} }
func (tx *memTx) Messages() MessageRepository { return &memTxMessages{tx: tx} }
func (tx *memTx) Outbox() Outbox              { return tx }

func (tx *memTx) Enqueue(_ context.Context, event events.Event) error {
	tx.events = append(tx.events, event)
	return nil
}

func (tx *memTx) current(id string) (domain.Ticket, bool) {
	if t, ok := tx.tickets[id]; ok {
		return t, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	t, ok := tx.store.tickets[id]
	return t, ok
}

type memTxTickets struct {
	tx *memTx
}

func (r *memTxTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.tx.store.mu.Lock()
	defer r.tx.store.mu.Unlock()
	r.tx.store.createTicketLocked(ticket)
	r.tx.tickets[ticket.ID] = r.tx.store.tickets[ticket.ID]
	delete(r.tx.store.tickets, ticket.ID)
	return nil
}

func (r *memTxTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	r.tx.store.mu.RLock()
	fault := r.tx.store.fault(ticket.ID)
	r.tx.store.mu.RUnlock()
	if fault != nil {
		return fault
	}
	stored, ok := r.tx.current(ticket.ID)
	if !ok {
		return pgx.ErrNoRows
	}
	next, err := mergeForUpdate(stored, ticket, r.tx.store.clock())
	if err != nil {
		return err
	}
	r.tx.tickets[ticket.ID] = next
	return nil
}

func (r *memTxTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	t, ok := r.tx.current(id)
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := t.Clone()
	return &c, nil
}

func (r *memTxTickets) GetByNumber(ctx context.Context, number int64) (*domain.Ticket, error) {
	for _, t := range r.tx.tickets {
		if t.Number == number {
			c := t.Clone()
			return &c, nil
		}
	}
	return r.tx.store.Tickets().GetByNumber(ctx, number)
}

func (r *memTxTickets) ListResolutionCandidates(ctx context.Context, statuses []domain.TicketStatus, before time.Time) ([]domain.Ticket, error) {
	return r.tx.store.Tickets().ListResolutionCandidates(ctx, statuses, before)
}

func (r *memTxTickets) ListFirstResponseCandidates(ctx context.Context, excluded []domain.TicketStatus, before time.Time) ([]domain.Ticket, error) {
	return r.tx.store.Tickets().ListFirstResponseCandidates(ctx, excluded, before)
}

func (r *memTxTickets) MarkOverdue(_ context.Context, id string) (bool, error) {
	return r.flip(id, func(t *domain.Ticket) *bool { return &t.IsOverdue })
}

func (r *memTxTickets) MarkFirstResponseBreached(_ context.Context, id string) (bool, error) {
	return r.flip(id, func(t *domain.Ticket) *bool { return &t.IsFirstResponseBreached })
}

func (r *memTxTickets) flip(id string, field func(*domain.Ticket) *bool) (bool, error) {
	r.tx.store.mu.RLock()
	fault := r.tx.store.fault(id)
	r.tx.store.mu.RUnlock()
	if fault != nil {
		return false, fault
	}
	t, ok := r.tx.current(id)
	if !ok {
		return false, nil
	}
	t = t.Clone()
	flag := field(&t)
	if *flag {
		return false, nil
	}
	*flag = true
	t.Version++
	t.UpdatedAt = r.tx.store.clock()
	r.tx.tickets[id] = t
	return true, nil
}

type memTxMessages struct {
	tx *memTx
}

func (r *memTxMessages) Create(_ context.Context, msg *domain.TicketMessage) error {
	stampMessage(msg, r.tx.store.clock())
	r.tx.messages = append(r.tx.messages, *msg)
	return nil
}

func (r *memTxMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.tx.store.mu.RLock()
	all := append([]domain.TicketMessage(nil), r.tx.store.messages...)
	r.tx.store.mu.RUnlock()
	all = append(all, r.tx.messages...)
	return filterMessages(all, ticketID), nil
}
