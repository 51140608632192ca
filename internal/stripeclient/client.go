// Package stripeclient issues paginated, typed list calls against the
// provider API. A Client is constructed per tenant per sync run with its own
// credential; there is no process-global API key.
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bursar/pkg/clients"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

const (
	defaultBaseURL = "https://api.stripe.com"

	// apiVersion is pinned so payload shapes (charge→invoice,
	// invoice→subscription links) stay stable regardless of the account's
	// default version.
	apiVersion = "2024-06-20"

	pageLimit = 100
)

// Client is a per-tenant provider API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retryCfg   clients.RetryConfig
	logger     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client bound to one tenant's API key.
func New(apiKey string, logger logging.Logger, opts ...Option) *Client {
	retryCfg := clients.DefaultRetryConfig()
	retryCfg.CircuitBreaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		Name:          "stripe-api",
		Logger:        logger,
		OnStateChange: clients.CircuitBreakerMetricsCallback("stripe-api"),
	})

	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: clients.DefaultTransport(),
			Timeout:   30 * time.Second,
		},
		retryCfg: retryCfg,
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiError is the provider's error envelope.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// listPage defers record decoding so one malformed record can be skipped
// without losing the page.
type listPage struct {
	Object  string            `json:"object"`
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*listPage, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Stripe-Version", apiVersion)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryCfg)
	if err != nil {
		return nil, fmt.Errorf("provider request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("provider response %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%s: %w", apiErr.Error.Message, models.ErrAuthExpired)
		case http.StatusTooManyRequests:
			return nil, fmt.Errorf("%s: %w", apiErr.Error.Message, models.ErrRateLimited)
		default:
			return nil, fmt.Errorf("provider %s returned %d: %s: %w",
				path, resp.StatusCode, apiErr.Error.Message, models.ErrKindUnavailable)
		}
	}

	var page listPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode page %s: %w", path, err)
	}
	return &page, nil
}

type providerRecord interface {
	objectID() string
}

// listAll drains every page for one list endpoint. Records that fail to
// decode are logged and counted as skipped, never fatal for the page. The
// cursor advances from the raw id of each page's last record so a page of
// malformed records still makes progress instead of being refetched.
func listAll[T providerRecord](ctx context.Context, c *Client, path string, params url.Values) (records []T, skipped int, err error) {
	cursor := ""
	for {
		q := url.Values{}
		for k, vs := range params {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(pageLimit))
		if cursor != "" {
			q.Set("starting_after", cursor)
		}

		page, err := c.get(ctx, path, q)
		if err != nil {
			return records, skipped, err
		}

		for _, raw := range page.Data {
			var rec T
			if err := json.Unmarshal(raw, &rec); err != nil {
				c.logger.WithFields(map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				}).Warn("Skipping malformed provider record")
				skipped++
				continue
			}
			records = append(records, rec)
		}

		if !page.HasMore || len(page.Data) == 0 {
			break
		}

		next := lastRecordID(page.Data)
		if next == "" || next == cursor {
			c.logger.WithFields(map[string]interface{}{
				"path":   path,
				"cursor": cursor,
			}).Warn("Page cursor made no progress, stopping pagination")
			break
		}
		cursor = next
	}
	return records, skipped, nil
}

// lastRecordID pulls just the id of the final record on a page. A one-field
// decode so even records whose full shape is malformed can drive the cursor.
func lastRecordID(data []json.RawMessage) string {
	var tail struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data[len(data)-1], &tail); err != nil {
		return ""
	}
	return tail.ID
}

func sinceParams(since *time.Time) url.Values {
	params := url.Values{}
	if since != nil {
		params.Set("created[gte]", strconv.FormatInt(since.Unix(), 10))
	}
	return params
}

// ListCustomers fetches all customers created at or after since
// (entire history when since is nil).
func (c *Client) ListCustomers(ctx context.Context, since *time.Time) ([]Customer, int, error) {
	return listAll[Customer](ctx, c, "/v1/customers", sinceParams(since))
}

// ListSubscriptions fetches subscriptions in every status, including
// canceled ones, which churn classification depends on.
func (c *Client) ListSubscriptions(ctx context.Context, since *time.Time) ([]Subscription, int, error) {
	params := sinceParams(since)
	params.Set("status", "all")
	return listAll[Subscription](ctx, c, "/v1/subscriptions", params)
}

// ListCharges fetches charges in the window.
func (c *Client) ListCharges(ctx context.Context, since *time.Time) ([]Charge, int, error) {
	return listAll[Charge](ctx, c, "/v1/charges", sinceParams(since))
}

// ListPaymentIntents fetches payment intents in the window.
func (c *Client) ListPaymentIntents(ctx context.Context, since *time.Time) ([]PaymentIntent, int, error) {
	return listAll[PaymentIntent](ctx, c, "/v1/payment_intents", sinceParams(since))
}

// ListInvoices fetches invoices in the window.
func (c *Client) ListInvoices(ctx context.Context, since *time.Time) ([]Invoice, int, error) {
	return listAll[Invoice](ctx, c, "/v1/invoices", sinceParams(since))
}

// ListTreasuryTransactions fetches ledger transactions across every
// financial account on the connected account. Accounts without treasury
// enabled simply return no accounts.
func (c *Client) ListTreasuryTransactions(ctx context.Context, since *time.Time) ([]TreasuryTransaction, int, error) {
	accounts, skipped, err := listAll[FinancialAccount](ctx, c, "/v1/treasury/financial_accounts", url.Values{})
	if err != nil {
		return nil, skipped, err
	}

	var all []TreasuryTransaction
	for _, fa := range accounts {
		params := sinceParams(since)
		params.Set("financial_account", fa.ID)
		txns, s, err := listAll[TreasuryTransaction](ctx, c, "/v1/treasury/transactions", params)
		skipped += s
		if err != nil {
			return all, skipped, err
		}
		all = append(all, txns...)
	}
	return all, skipped, nil
}
