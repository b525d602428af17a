// Package policyapi provides a client for the PolicyEngine simulation API:
// policy creation, long-polled economy computations, and state microdata
// fetches for local aggregation.
package policyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/model"
	"github.com/policyscope/impact-cli/internal/provider"
	"github.com/policyscope/impact-cli/internal/resilience"
)

const (
	defaultBaseURL      = "https://api.policyengine.org"
	defaultCountry      = "us"
	defaultPollInterval = 10 * time.Second
	defaultMaxPolls     = 60

	// currentLawPolicyID is the server's baseline "current law" policy.
	currentLawPolicyID = 2
)

// Client defines the simulation API operations.
type Client interface {
	// CreatePolicy registers a reform parameter set and returns its policy ID.
	CreatePolicy(ctx context.Context, params model.ReformParams) (int, error)
	// Economy fetches the server-computed economy-wide impact of a policy,
	// polling until the computation finishes.
	Economy(ctx context.Context, policyID int, region string, year int) (*EconomyResult, error)
	// Microdata fetches matched baseline/reform microdata tables for a state.
	Microdata(ctx context.Context, state string, year int, params model.ReformParams) (*provider.Bundle, error)
}

// EconomyResult carries the subset of the server's economy computation used
// to cross-check locally aggregated results.
type EconomyResult struct {
	Budget struct {
		BudgetaryImpact       float64  `json:"budgetary_impact"`
		StateTaxRevenueImpact *float64 `json:"state_tax_revenue_impact"`
		Households            float64  `json:"households"`
	} `json:"budget"`
}

// RevenueImpact returns the state revenue figure, preferring the state-level
// field when the server provides one.
func (e *EconomyResult) RevenueImpact() float64 {
	if e.Budget.StateTaxRevenueImpact != nil {
		return *e.Budget.StateTaxRevenueImpact
	}
	return e.Budget.BudgetaryImpact
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithCountry overrides the default country segment.
func WithCountry(country string) Option {
	return func(c *httpClient) {
		c.country = country
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPollInterval overrides the delay between computation status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *httpClient) {
		c.pollInterval = d
	}
}

// WithMaxPolls bounds how many times a computation is polled before giving up.
func WithMaxPolls(n int) Option {
	return func(c *httpClient) {
		c.maxPolls = n
	}
}

// WithRateLimit sets the request rate limit in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	baseURL      string
	country      string
	http         *http.Client
	limiter      *rate.Limiter
	retry        resilience.RetryPolicy
	breaker      *resilience.Breaker
	pollInterval time.Duration
	maxPolls     int
}

// NewClient creates a simulation API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:      defaultBaseURL,
		country:      defaultCountry,
		limiter:      rate.NewLimiter(2, 2),
		retry:        resilience.DefaultRetryPolicy(),
		breaker:      resilience.NewBreaker(5, 30*time.Second),
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	c.retry.OnRetry = resilience.RetryLogger("policyapi request")
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is the server's standard response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *httpClient) CreatePolicy(ctx context.Context, params model.ReformParams) (int, error) {
	if err := params.Validate(); err != nil {
		return 0, eris.Wrap(err, "policyapi: invalid reform params")
	}

	body, err := json.Marshal(map[string]any{"data": params})
	if err != nil {
		return 0, eris.Wrap(err, "policyapi: marshal policy")
	}

	env, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("%s/%s/policy", c.baseURL, c.country), body)
	if err != nil {
		return 0, err
	}

	var result struct {
		PolicyID int `json:"policy_id"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, eris.Wrap(err, "policyapi: unmarshal policy response")
	}
	if result.PolicyID == 0 {
		return 0, eris.Errorf("policyapi: response missing policy_id")
	}
	return result.PolicyID, nil
}

func (c *httpClient) Economy(ctx context.Context, policyID int, region string, year int) (*EconomyResult, error) {
	url := fmt.Sprintf("%s/%s/economy/%d/over/%d?region=%s&time_period=%d",
		c.baseURL, c.country, policyID, currentLawPolicyID, strings.ToLower(region), year)

	raw, err := c.poll(ctx, url)
	if err != nil {
		return nil, err
	}

	var result EconomyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, eris.Wrap(err, "policyapi: unmarshal economy result")
	}
	return &result, nil
}

func (c *httpClient) Microdata(ctx context.Context, state string, year int, params model.ReformParams) (*provider.Bundle, error) {
	policyID, err := c.CreatePolicy(ctx, params)
	if err != nil {
		return nil, err
	}

	baseline, err := c.fetchTables(ctx, currentLawPolicyID, state, year)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: baseline microdata")
	}
	reform, err := c.fetchTables(ctx, policyID, state, year)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: reform microdata")
	}

	b := &provider.Bundle{
		State:      state,
		Year:       year,
		PolicyID:   policyID,
		Households: provider.Pair{Baseline: baseline.households, Reform: reform.households},
		TaxUnits:   provider.Pair{Baseline: baseline.taxUnits, Reform: reform.taxUnits},
		Persons:    provider.Pair{Baseline: baseline.persons, Reform: reform.persons},
	}
	if err := b.Validate(); err != nil {
		return nil, eris.Wrap(err, "policyapi: microdata bundle")
	}
	return b, nil
}

// tablePayload is one entity table on the wire: a weight array plus named
// columns aligned to it.
type tablePayload struct {
	Weights []float64            `json:"weights"`
	Columns map[string][]float64 `json:"columns"`
}

type microdataPayload struct {
	Households tablePayload `json:"households"`
	TaxUnits   tablePayload `json:"tax_units"`
	Persons    tablePayload `json:"persons"`
}

type tableSet struct {
	households *microdata.Table
	taxUnits   *microdata.Table
	persons    *microdata.Table
}

func (c *httpClient) fetchTables(ctx context.Context, policyID int, state string, year int) (*tableSet, error) {
	url := fmt.Sprintf("%s/%s/microdata/%d?region=%s&time_period=%d",
		c.baseURL, c.country, policyID, strings.ToLower(state), year)

	raw, err := c.poll(ctx, url)
	if err != nil {
		return nil, err
	}

	var payload microdataPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, eris.Wrap(err, "policyapi: unmarshal microdata")
	}

	households, err := buildTable(payload.Households)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: households table")
	}
	taxUnits, err := buildTable(payload.TaxUnits)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: tax units table")
	}
	persons, err := buildTable(payload.Persons)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: persons table")
	}
	return &tableSet{households: households, taxUnits: taxUnits, persons: persons}, nil
}

func buildTable(p tablePayload) (*microdata.Table, error) {
	t, err := microdata.NewTable(p.Weights)
	if err != nil {
		return nil, err
	}
	for name, values := range p.Columns {
		if err := t.SetColumn(name, values); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// poll GETs url until the server reports the computation finished. A
// "computing" status sleeps one poll interval; anything other than "ok" is a
// hard error carrying the server's message.
func (c *httpClient) poll(ctx context.Context, url string) (json.RawMessage, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		env, err := c.doJSON(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		switch env.Status {
		case "ok":
			return env.Result, nil
		case "computing":
			timer := time.NewTimer(c.pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, eris.Wrap(ctx.Err(), "policyapi: poll")
			case <-timer.C:
			}
		default:
			msg := env.Message
			if msg == "" {
				msg = "unknown error"
			}
			return nil, eris.Errorf("policyapi: computation failed: %s", msg)
		}
	}
	return nil, eris.Errorf("policyapi: computation timed out after %d polls", c.maxPolls)
}

// doJSON performs one rate-limited, retried request through the circuit
// breaker and decodes the standard response envelope.
func (c *httpClient) doJSON(ctx context.Context, method, url string, body []byte) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "policyapi: rate limit")
	}

	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (*envelope, error) {
		return resilience.Guard(ctx, c.breaker, func(ctx context.Context) (*envelope, error) {
			return c.doOnce(ctx, method, url, body)
		})
	})
}

func (c *httpClient) doOnce(ctx context.Context, method, url string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "policyapi: read response")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := eris.Errorf("policyapi: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, eris.Wrap(err, "policyapi: unmarshal envelope")
	}
	return &env, nil
}
