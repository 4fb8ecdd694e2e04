package ticketclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scripted struct {
	code int
	body string
	hdr  map[string]string
}

func newServer(t *testing.T, steps []scripted) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/pay-1/status", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("Authorization"))

		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(steps) {
			n = len(steps) - 1
		}
		for k, v := range steps[n].hdr {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(steps[n].code)
		w.Write([]byte(steps[n].body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, baseURL string, attempts int) (*Client, *[]time.Duration) {
	c := New(Options{
		BaseURL:      baseURL,
		Token:        "tok",
		MaxAttempts:  attempts,
		PollInterval: 2 * time.Second,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Logger:       zaptest.NewLogger(t),
	})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

const (
	pending   = `{"payment_id":"pay-1","status":"pending"}`
	completed = `{"payment_id":"pay-1","status":"completed","ticket_ids":["t1","t2"]}`
)

func TestAwaitPayment_Completes(t *testing.T) {
	srv, calls := newServer(t, []scripted{
		{code: 200, body: pending},
		{code: 200, body: pending},
		{code: 200, body: completed},
	})
	c, slept := newTestClient(t, srv.URL, 10)

	res, err := c.AwaitPayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"t1", "t2"}, res.TicketIDs)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *slept)
}

func TestAwaitPayment_Failed(t *testing.T) {
	srv, _ := newServer(t, []scripted{
		{code: 200, body: `{"payment_id":"pay-1","status":"failed","failure_reason":"insufficient funds"}`},
	})
	c, _ := newTestClient(t, srv.URL, 5)

	res, err := c.AwaitPayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "insufficient funds", res.FailureReason)
}

func TestAwaitPayment_BacksOffOnRateLimitAndServerErrors(t *testing.T) {
	srv, _ := newServer(t, []scripted{
		{code: 429, body: `{"error":"RateLimited"}`},
		{code: 502, body: `{}`},
		{code: 503, body: `{}`},
		{code: 429, body: `{}`, hdr: map[string]string{"Retry-After": "5"}},
		{code: 200, body: completed},
	})
	c, slept := newTestClient(t, srv.URL, 10)

	res, err := c.AwaitPayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, *slept)
}

func TestAwaitPayment_RetryAfterHint(t *testing.T) {
	srv, _ := newServer(t, []scripted{
		{code: 429, body: `{}`, hdr: map[string]string{"Retry-After": "5"}},
		{code: 200, body: completed},
	})
	c, slept := newTestClient(t, srv.URL, 10)

	_, err := c.AwaitPayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, *slept)
}

func TestAwaitPayment_GivesUpNeutrally(t *testing.T) {
	srv, calls := newServer(t, []scripted{{code: 200, body: pending}})
	c, slept := newTestClient(t, srv.URL, 4)

	res, err := c.AwaitPayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckTickets, res.Outcome)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.EqualValues(t, 4, atomic.LoadInt32(calls))
	assert.Len(t, *slept, 3)
}

func TestAwaitPayment_GivesUpNeutrallyWhenServerKeepsFailing(t *testing.T) {
	srv, _ := newServer(t, []scripted{{code: 500, body: `{}`}})
	c, _ := newTestClient(t, srv.URL, 3)

	res, err := c.AwaitPayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckTickets, res.Outcome)
}

func TestAwaitPayment_ClientErrorsStop(t *testing.T) {
	srv, calls := newServer(t, []scripted{{code: 403, body: `{"error":"Forbidden","reason":"not your payment"}`}})
	c, _ := newTestClient(t, srv.URL, 5)

	_, err := c.AwaitPayment(context.Background(), "pay-1")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "not your payment", se.Reason)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestAwaitPayment_Cancelled(t *testing.T) {
	srv, _ := newServer(t, []scripted{{code: 200, body: pending}})
	c, _ := newTestClient(t, srv.URL, 5)
	c.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AwaitPayment(ctx, "pay-1")
	assert.ErrorIs(t, err, context.Canceled)
}
