package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campus-ticket/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

const (
	EventsCollection   = "events"
	TicketsCollection  = "tickets"
	PaymentsCollection = "payments"
	UsersCollection    = "users"
)

// PBStore keeps the ledger in PocketBase collections.
type PBStore struct {
	app core.App
}

var _ Store = (*PBStore)(nil)

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PBStore) GetEvent(_ context.Context, id string) (*models.Event, error) {
	rec, err := s.app.FindRecordById(EventsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", notFound(err))
	}
	return eventFromRecord(rec)
}

func (s *PBStore) UpdateEvent(ctx context.Context, id string, fn func(*models.Event) error) (*models.Event, error) {
	var out *models.Event
	err := s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(EventsCollection, id)
		if err != nil {
			return notFound(err)
		}
		event, err := eventFromRecord(rec)
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
		eventToRecord(event, rec)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return err
		}
		out = event
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateEvent: %w", err)
	}
	return out, nil
}

func (s *PBStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	rec, err := s.app.FindRecordById(TicketsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("GetTicket: %w", notFound(err))
	}
	return ticketFromRecord(rec)
}

func (s *PBStore) FindTickets(_ context.Context, f TicketFilter) ([]*models.Ticket, error) {
	hash := dbx.HashExp{}
	if f.EventID != "" {
		hash["event_id"] = f.EventID
	}
	if f.UserID != "" {
		hash["user_id"] = f.UserID
	}
	if f.PaymentID != "" {
		hash["payment_id"] = f.PaymentID
	}
	exprs := []dbx.Expression{hash}
	if len(f.Statuses) > 0 {
		exprs = append(exprs, dbx.In("status", ticketStatusArgs(f.Statuses)...))
	}

	records, err := s.app.FindAllRecords(TicketsCollection, exprs...)
	if err != nil {
		return nil, fmt.Errorf("FindTickets: %w", err)
	}
	out := make([]*models.Ticket, 0, len(records))
	for _, rec := range records {
		t, err := ticketFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PBStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	col, err := s.app.FindCachedCollectionByNameOrId(TicketsCollection)
	if err != nil {
		return fmt.Errorf("CreateTicket: %w", err)
	}
	rec := core.NewRecord(col)
	ticketToRecord(t, rec)
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("CreateTicket: %w", err)
	}
	t.ID = rec.Id
	t.CreatedAt = rec.GetDateTime("created").Time()
	return nil
}

func (s *PBStore) UpdateTicket(ctx context.Context, id string, fn func(*models.Ticket) error) (*models.Ticket, error) {
	var out *models.Ticket
	err := s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(TicketsCollection, id)
		if err != nil {
			return notFound(err)
		}
		t, err := ticketFromRecord(rec)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		ticketToRecord(t, rec)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateTicket: %w", err)
	}
	return out, nil
}

func (s *PBStore) UpdateTickets(ctx context.Context, ids []string, fn func(*models.Ticket) error) error {
	err := s.app.RunInTransaction(func(txApp core.App) error {
		for _, id := range ids {
			rec, err := txApp.FindRecordById(TicketsCollection, id)
			if err != nil {
				return fmt.Errorf("ticket %s: %w", id, notFound(err))
			}
			t, err := ticketFromRecord(rec)
			if err != nil {
				return err
			}
			if err := fn(t); err != nil {
				if errors.Is(err, ErrSkip) {
					continue
				}
				return err
			}
			ticketToRecord(t, rec)
			if err := txApp.SaveWithContext(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("UpdateTickets: %w", err)
	}
	return nil
}

func (s *PBStore) DeleteTicket(ctx context.Context, id string) error {
	rec, err := s.app.FindRecordById(TicketsCollection, id)
	if err != nil {
		return fmt.Errorf("DeleteTicket: %w", notFound(err))
	}
	if err := s.app.DeleteWithContext(ctx, rec); err != nil {
		return fmt.Errorf("DeleteTicket: %w", err)
	}
	return nil
}

func (s *PBStore) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	rec, err := s.app.FindRecordById(PaymentsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", notFound(err))
	}
	return paymentFromRecord(rec)
}

func (s *PBStore) FindPaymentByBillCode(_ context.Context, billCode string) (*models.Payment, error) {
	if billCode == "" {
		return nil, ErrNotFound
	}
	rec, err := s.app.FindFirstRecordByData(PaymentsCollection, "bill_code", billCode)
	if err != nil {
		return nil, fmt.Errorf("FindPaymentByBillCode: %w", notFound(err))
	}
	return paymentFromRecord(rec)
}

func (s *PBStore) FindPayments(_ context.Context, f PaymentFilter) ([]*models.Payment, error) {
	q := s.app.RecordQuery(PaymentsCollection)
	if f.EventID != "" {
		q = q.AndWhere(dbx.HashExp{"event_id": f.EventID})
	}
	if f.UserID != "" {
		q = q.AndWhere(dbx.HashExp{"user_id": f.UserID})
	}
	if len(f.Statuses) > 0 {
		args := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			args[i] = string(st)
		}
		q = q.AndWhere(dbx.In("status", args...))
	}
	if f.HoldExpiresBefore.IsZero() {
		q = q.OrderBy("created ASC")
	} else {
		before, err := types.ParseDateTime(f.HoldExpiresBefore)
		if err != nil {
			return nil, fmt.Errorf("FindPayments: %w", err)
		}
		// An empty hold_expires_at sorts first and counts as lapsed.
		q = q.AndWhere(dbx.NewExp("hold_expires_at < {:before}", dbx.Params{"before": before.String()})).
			OrderBy("hold_expires_at ASC", "created ASC")
	}
	if f.Limit > 0 {
		q = q.Limit(int64(f.Limit))
	}

	records := []*core.Record{}
	if err := q.All(&records); err != nil {
		return nil, fmt.Errorf("FindPayments: %w", err)
	}
	out := make([]*models.Payment, 0, len(records))
	for _, rec := range records {
		p, err := paymentFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PBStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	col, err := s.app.FindCachedCollectionByNameOrId(PaymentsCollection)
	if err != nil {
		return fmt.Errorf("CreatePayment: %w", err)
	}
	rec := core.NewRecord(col)
	rec.Id = p.ID
	paymentToRecord(p, rec)
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("CreatePayment: %w", err)
	}
	p.CreatedAt = rec.GetDateTime("created").Time()
	return nil
}

func (s *PBStore) UpdatePayment(ctx context.Context, id string, fn func(*models.Payment) error) (*models.Payment, error) {
	var out *models.Payment
	err := s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(PaymentsCollection, id)
		if err != nil {
			return notFound(err)
		}
		p, err := paymentFromRecord(rec)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		paymentToRecord(p, rec)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePayment: %w", err)
	}
	return out, nil
}

func (s *PBStore) DeletePayment(ctx context.Context, id string) error {
	rec, err := s.app.FindRecordById(PaymentsCollection, id)
	if err != nil {
		return fmt.Errorf("DeletePayment: %w", notFound(err))
	}
	if err := s.app.DeleteWithContext(ctx, rec); err != nil {
		return fmt.Errorf("DeletePayment: %w", err)
	}
	return nil
}

func (s *PBStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	rec, err := s.app.FindRecordById(UsersCollection, userID)
	if err != nil {
		return nil, fmt.Errorf("GetProfile: %w", notFound(err))
	}
	return profileFromRecord(rec), nil
}

// profileFromRecord reads the purchaser and organizer fields of a users record.
func profileFromRecord(rec *core.Record) *models.Profile {
	return &models.Profile{
		UserID:          rec.Id,
		Name:            rec.GetString("name"),
		Email:           rec.Email(),
		Phone:           rec.GetString("phone"),
		Role:            models.Role(rec.GetString("role")),
		CategoryCode:    rec.GetString("toyyibpay_category_code"),
		PaymentEnabled:  rec.GetBool("payment_enabled"),
		ManualQREnabled: rec.GetBool("manual_qr_enabled"),
		ManualQRURL:     rec.GetString("manual_qr_url"),
	}
}

func eventFromRecord(rec *core.Record) (*models.Event, error) {
	e := &models.Event{
		ID:          rec.Id,
		OrganizerID: rec.GetString("organizer_id"),
		Title:       rec.GetString("title"),
		Status:      models.EventStatus(rec.GetString("status")),
		Price:       money(rec.GetFloat("price")),
		Capacity:    rec.GetInt("capacity"),
		TicketsSold: rec.GetInt("tickets_sold"),
		Revenue:     money(rec.GetFloat("revenue")),
	}
	if err := unmarshalOptional(rec, "holds", &e.Holds); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(rec, "applied_payments", &e.AppliedPayments); err != nil {
		return nil, err
	}
	return e, nil
}

// eventToRecord writes back only the fields the ledger owns.
func eventToRecord(e *models.Event, rec *core.Record) {
	holds := e.Holds
	if holds == nil {
		holds = map[string]int{}
	}
	applied := e.AppliedPayments
	if applied == nil {
		applied = []string{}
	}
	rec.Set("tickets_sold", e.TicketsSold)
	rec.Set("revenue", e.Revenue.InexactFloat64())
	rec.Set("holds", holds)
	rec.Set("applied_payments", applied)
}

func ticketFromRecord(rec *core.Record) (*models.Ticket, error) {
	t := &models.Ticket{
		ID:             rec.Id,
		EventID:        rec.GetString("event_id"),
		UserID:         rec.GetString("user_id"),
		PaymentID:      rec.GetString("payment_id"),
		Status:         models.TicketStatus(rec.GetString("status")),
		UnitPrice:      money(rec.GetFloat("unit_price")),
		PurchaseAmount: money(rec.GetFloat("purchase_amount")),
		Code:           rec.GetString("code"),
		CheckedIn:      rec.GetBool("checked_in"),
		CheckedInAt:    optionalTime(rec.GetDateTime("checked_in_at")),
		PaidAt:         optionalTime(rec.GetDateTime("paid_at")),
		CreatedAt:      rec.GetDateTime("created").Time(),
	}
	if err := unmarshalOptional(rec, "custom_responses", &t.CustomResponses); err != nil {
		return nil, err
	}
	return t, nil
}

func ticketToRecord(t *models.Ticket, rec *core.Record) {
	rec.Set("event_id", t.EventID)
	rec.Set("user_id", t.UserID)
	rec.Set("payment_id", t.PaymentID)
	rec.Set("status", string(t.Status))
	rec.Set("unit_price", t.UnitPrice.InexactFloat64())
	rec.Set("purchase_amount", t.PurchaseAmount.InexactFloat64())
	rec.Set("code", t.Code)
	rec.Set("custom_responses", t.CustomResponses)
	rec.Set("checked_in", t.CheckedIn)
	rec.Set("checked_in_at", timeOrEmpty(t.CheckedInAt))
	rec.Set("paid_at", timeOrEmpty(t.PaidAt))
}

func paymentFromRecord(rec *core.Record) (*models.Payment, error) {
	p := &models.Payment{
		ID:              rec.Id,
		UserID:          rec.GetString("user_id"),
		EventID:         rec.GetString("event_id"),
		OrganizerID:     rec.GetString("organizer_id"),
		Quantity:        rec.GetInt("quantity"),
		Amount:          money(rec.GetFloat("amount")),
		PlatformFee:     money(rec.GetFloat("platform_fee")),
		OrganizerAmount: money(rec.GetFloat("organizer_amount")),
		Status:          models.PaymentStatus(rec.GetString("status")),
		Method:          models.PaymentMethod(rec.GetString("method")),
		BillCode:        rec.GetString("bill_code"),
		BillURL:         rec.GetString("bill_url"),
		GatewayRef:      rec.GetString("gateway_ref"),
		ReceivedAmount:  money(rec.GetFloat("received_amount")),
		FailureReason:   rec.GetString("failure_reason"),
		CountersApplied: rec.GetBool("counters_applied"),
		Attempts:        rec.GetInt("attempts"),
		HoldExpiresAt:   rec.GetDateTime("hold_expires_at").Time(),
		CreatedAt:       rec.GetDateTime("created").Time(),
		ProcessedAt:     optionalTime(rec.GetDateTime("processed_at")),
		CompletedAt:     optionalTime(rec.GetDateTime("completed_at")),
	}
	if err := unmarshalOptional(rec, "ticket_ids", &p.TicketIDs); err != nil {
		return nil, err
	}
	return p, nil
}

func paymentToRecord(p *models.Payment, rec *core.Record) {
	ticketIDs := p.TicketIDs
	if ticketIDs == nil {
		ticketIDs = []string{}
	}
	rec.Set("user_id", p.UserID)
	rec.Set("event_id", p.EventID)
	rec.Set("organizer_id", p.OrganizerID)
	rec.Set("ticket_ids", ticketIDs)
	rec.Set("quantity", p.Quantity)
	rec.Set("amount", p.Amount.InexactFloat64())
	rec.Set("platform_fee", p.PlatformFee.InexactFloat64())
	rec.Set("organizer_amount", p.OrganizerAmount.InexactFloat64())
	rec.Set("status", string(p.Status))
	rec.Set("method", string(p.Method))
	rec.Set("bill_code", p.BillCode)
	rec.Set("bill_url", p.BillURL)
	rec.Set("gateway_ref", p.GatewayRef)
	rec.Set("received_amount", p.ReceivedAmount.InexactFloat64())
	rec.Set("failure_reason", p.FailureReason)
	rec.Set("counters_applied", p.CountersApplied)
	rec.Set("attempts", p.Attempts)
	if p.HoldExpiresAt.IsZero() {
		rec.Set("hold_expires_at", "")
	} else {
		rec.Set("hold_expires_at", p.HoldExpiresAt)
	}
	rec.Set("processed_at", timeOrEmpty(p.ProcessedAt))
	rec.Set("completed_at", timeOrEmpty(p.CompletedAt))
}

func unmarshalOptional(rec *core.Record, key string, dst any) error {
	raw, ok := rec.Get(key).(types.JSONRaw)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := rec.UnmarshalJSONField(key, dst); err != nil {
		return fmt.Errorf("%s.%s: %w", rec.Collection().Name, key, err)
	}
	return nil
}

func money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func optionalTime(dt types.DateTime) *time.Time {
	if dt.IsZero() {
		return nil
	}
	t := dt.Time()
	return &t
}

func timeOrEmpty(t *time.Time) any {
	if t == nil {
		return ""
	}
	return *t
}

func ticketStatusArgs(statuses []models.TicketStatus) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}
