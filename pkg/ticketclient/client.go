// Package ticketclient waits for a campus-ticket payment to settle by polling
// the status endpoint, the same way the web checkout page does.
package ticketclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
	// OutcomeCheckTickets means polling gave up without a final answer. The
	// purchaser is sent to their ticket list instead of seeing an error.
	OutcomeCheckTickets Outcome = "check_tickets"
)

const (
	defaultMaxAttempts  = 20
	defaultPollInterval = 3 * time.Second
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

type Options struct {
	BaseURL string
	// Token is the purchaser's auth token, sent as-is in Authorization.
	Token string

	MaxAttempts  int
	PollInterval time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Result is the last status seen for the payment.
type Result struct {
	Outcome       Outcome  `json:"outcome"`
	PaymentID     string   `json:"payment_id"`
	Status        string   `json:"status,omitempty"`
	TicketIDs     []string `json:"ticket_ids,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Attempts      int      `json:"attempts"`
}

type statusResponse struct {
	PaymentID     string   `json:"payment_id"`
	Status        string   `json:"status"`
	TicketIDs     []string `json:"ticket_ids"`
	FailureReason string   `json:"failure_reason"`
}

// StatusError is a non-retryable response from the status endpoint.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment status: %d %s", e.Code, e.Reason)
}

type Client struct {
	baseURL string
	token   string
	opts    Options
	http    *http.Client
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		opts:    opts,
		http:    opts.HTTPClient,
		logger:  opts.Logger.Named("ticketclient"),
		sleep:   sleepCtx,
	}
}

// AwaitPayment polls until the payment is completed, failed or expired, or
// until the attempt budget runs out. Running out is not an error: the result
// carries OutcomeCheckTickets.
func (c *Client) AwaitPayment(ctx context.Context, paymentID string) (*Result, error) {
	last := &Result{Outcome: OutcomeCheckTickets, PaymentID: paymentID}
	backoffs := 0

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		last.Attempts = attempt

		st, retryAfter, err := c.fetch(ctx, paymentID)
		switch {
		case err == nil:
			backoffs = 0
			last.Status = st.Status
			last.TicketIDs = st.TicketIDs
			last.FailureReason = st.FailureReason

			switch st.Status {
			case "completed":
				last.Outcome = OutcomeCompleted
				return last, nil
			case "failed":
				last.Outcome = OutcomeFailed
				return last, nil
			case "expired":
				last.Outcome = OutcomeExpired
				return last, nil
			}
			if attempt < c.opts.MaxAttempts {
				if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
					return nil, err
				}
			}

		case isRetryable(err):
			delay := c.backoff(backoffs, retryAfter)
			backoffs++
			c.logger.Warn("status poll failed, backing off",
				zap.String("payment_id", paymentID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if attempt < c.opts.MaxAttempts {
				if err := c.sleep(ctx, delay); err != nil {
					return nil, err
				}
			}

		default:
			return nil, err
		}
	}

	c.logger.Info("gave up waiting for payment",
		zap.String("payment_id", paymentID),
		zap.String("last_status", last.Status),
		zap.Int("attempts", last.Attempts),
	)
	last.Outcome = OutcomeCheckTickets
	return last, nil
}

func (c *Client) fetch(ctx context.Context, paymentID string) (*statusResponse, time.Duration, error) {
	endpoint := c.baseURL + "/api/v1/payments/" + url.PathEscape(paymentID) + "/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, &transportError{err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(body, &e)
		return nil, retryAfter(resp.Header.Get("Retry-After")), &StatusError{Code: resp.StatusCode, Reason: e.Reason}
	}

	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, 0, fmt.Errorf("decode status: %w", err)
	}
	return &st, 0, nil
}

// backoff doubles from InitialDelay per consecutive failure, capped at
// MaxDelay. A server supplied Retry-After wins when it is longer.
func (c *Client) backoff(n int, hint time.Duration) time.Duration {
	d := c.opts.InitialDelay << n
	if d <= 0 || d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	if hint > d {
		d = min(hint, c.opts.MaxDelay)
	}
	return d
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "status request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	switch e := err.(type) {
	case *transportError:
		return true
	case *StatusError:
		return e.Code == http.StatusTooManyRequests || e.Code >= 500
	}
	return false
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
