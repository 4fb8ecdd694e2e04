// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"campus-ticket/internal/ledger"
	"campus-ticket/models"
)

type failure struct {
	after int
	err   error
}

type Store struct {
	mu       sync.Mutex
	seq      int
	events   map[string]*models.Event
	tickets  map[string]*models.Ticket
	payments map[string]*models.Payment
	profiles map[string]*models.Profile

	calls    map[string]int
	failures map[string]*failure
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		events:   make(map[string]*models.Event),
		tickets:  make(map[string]*models.Ticket),
		payments: make(map[string]*models.Payment),
		profiles: make(map[string]*models.Profile),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
	}
}

// FailAfter makes op return err once it has succeeded n times.
func (s *Store) FailAfter(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{after: n, err: err}
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) hit(op string) error {
	s.calls[op]++
	if f, ok := s.failures[op]; ok {
		if f.after <= 0 {
			return f.err
		}
		f.after--
	}
	return nil
}

func (s *Store) PutEvent(e *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = copyEvent(e)
}

func (s *Store) PutProfile(p *models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
}

// PutTicket overwrites a ticket as-is, bypassing any status rules.
func (s *Store) PutTicket(t *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = copyTicket(t)
}

func (s *Store) PutPayment(p *models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = copyPayment(p)
}

func (s *Store) TicketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *Store) GetEvent(_ context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetEvent"); err != nil {
		return nil, err
	}
	e, ok := s.events[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return copyEvent(e), nil
}

func (s *Store) UpdateEvent(_ context.Context, id string, fn func(*models.Event) error) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("UpdateEvent"); err != nil {
		return nil, err
	}
	e, ok := s.events[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	next := copyEvent(e)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.events[id] = copyEvent(next)
	return next, nil
}

func (s *Store) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetTicket"); err != nil {
		return nil, err
	}
	t, ok := s.tickets[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return copyTicket(t), nil
}

func (s *Store) FindTickets(_ context.Context, f ledger.TicketFilter) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("FindTickets"); err != nil {
		return nil, err
	}
	var out []*models.Ticket
	for _, t := range s.tickets {
		if f.EventID != "" && t.EventID != f.EventID {
			continue
		}
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.PaymentID != "" && t.PaymentID != f.PaymentID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		out = append(out, copyTicket(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateTicket(_ context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("CreateTicket"); err != nil {
		return err
	}
	s.seq++
	t.ID = fmt.Sprintf("ticket%04d", s.seq)
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

func (s *Store) UpdateTicket(_ context.Context, id string, fn func(*models.Ticket) error) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("UpdateTicket"); err != nil {
		return nil, err
	}
	t, ok := s.tickets[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	next := copyTicket(t)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.tickets[id] = copyTicket(next)
	return next, nil
}

func (s *Store) UpdateTickets(_ context.Context, ids []string, fn func(*models.Ticket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("UpdateTickets"); err != nil {
		return err
	}
	staged := make(map[string]*models.Ticket, len(ids))
	for _, id := range ids {
		t, ok := s.tickets[id]
		if !ok {
			return fmt.Errorf("ticket %s: %w", id, ledger.ErrNotFound)
		}
		next := copyTicket(t)
		if err := fn(next); err != nil {
			if errors.Is(err, ledger.ErrSkip) {
				continue
			}
			return err
		}
		staged[id] = next
	}
	maps.Copy(s.tickets, staged)
	return nil
}

func (s *Store) DeleteTicket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("DeleteTicket"); err != nil {
		return err
	}
	if _, ok := s.tickets[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.tickets, id)
	return nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetPayment"); err != nil {
		return nil, err
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return copyPayment(p), nil
}

func (s *Store) FindPaymentByBillCode(_ context.Context, billCode string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("FindPaymentByBillCode"); err != nil {
		return nil, err
	}
	for _, p := range s.payments {
		if billCode != "" && p.BillCode == billCode {
			return copyPayment(p), nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) FindPayments(_ context.Context, f ledger.PaymentFilter) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("FindPayments"); err != nil {
		return nil, err
	}
	var out []*models.Payment
	for _, p := range s.payments {
		if f.EventID != "" && p.EventID != f.EventID {
			continue
		}
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
			continue
		}
		if !f.HoldExpiresBefore.IsZero() && !p.HoldExpiresAt.Before(f.HoldExpiresBefore) {
			continue
		}
		out = append(out, copyPayment(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !f.HoldExpiresBefore.IsZero() && !out[i].HoldExpiresAt.Equal(out[j].HoldExpiresAt) {
			return out[i].HoldExpiresAt.Before(out[j].HoldExpiresAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("CreatePayment"); err != nil {
		return err
	}
	if _, ok := s.payments[p.ID]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *Store) UpdatePayment(_ context.Context, id string, fn func(*models.Payment) error) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("UpdatePayment"); err != nil {
		return nil, err
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	next := copyPayment(p)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.payments[id] = copyPayment(next)
	return next, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("DeletePayment"); err != nil {
		return err
	}
	if _, ok := s.payments[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.payments, id)
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("GetProfile"); err != nil {
		return nil, err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func copyEvent(e *models.Event) *models.Event {
	cp := *e
	cp.Holds = maps.Clone(e.Holds)
	cp.AppliedPayments = slices.Clone(e.AppliedPayments)
	return &cp
}

func copyTicket(t *models.Ticket) *models.Ticket {
	cp := *t
	cp.CustomResponses = maps.Clone(t.CustomResponses)
	if t.PaidAt != nil {
		at := *t.PaidAt
		cp.PaidAt = &at
	}
	if t.CheckedInAt != nil {
		at := *t.CheckedInAt
		cp.CheckedInAt = &at
	}
	return &cp
}

func copyPayment(p *models.Payment) *models.Payment {
	cp := *p
	cp.TicketIDs = slices.Clone(p.TicketIDs)
	if p.ProcessedAt != nil {
		at := *p.ProcessedAt
		cp.ProcessedAt = &at
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
