// Package tldcrm provides access to the TLD CRM egress (read) and ingress
// (write) APIs used for MARx plan-change tracking.
package tldcrm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/resilience"
)

const (
	// DefaultEgressURL is the production read API root.
	DefaultEgressURL = "https://cm.tldcrm.com/api/egress"
	// DefaultIngressURL is the production write API root.
	DefaultIngressURL = "https://cm.tldcrm.com/api/ingress"

	// NoneValue is what the CRM stores for an absent plan-change result.
	NoneValue = "None"

	leadColumns = "marx_contract,marx_pbp,marx_plan_change_result,marx_last_udpate"
)

// Client defines the CRM operations used by reconciliation, reset and tiering.
type Client interface {
	// FetchPlanState returns the MARx fields stored on a lead. A lead with no
	// stored record yields a zero PlanChangeState.
	FetchPlanState(ctx context.Context, leadID string) (model.PlanChangeState, error)
	// WritePlanUpdate persists the full MARx field set for a lead.
	WritePlanUpdate(ctx context.Context, u model.PlanUpdate) error
	// WriteBlankUpdate stamps only marx_last_udpate on a lead.
	WriteBlankUpdate(ctx context.Context, leadID, lastUpdate string) error
	// ClearPlanChangeResult resets marx_plan_change_result with a single
	// request and returns the response status.
	ClearPlanChangeResult(ctx context.Context, leadID, claimNumber string) (int, error)
	// ListPolicies runs one egress policies query.
	ListPolicies(ctx context.Context, q PolicyQuery) ([]model.Policy, error)
}

// Credentials authenticate every CRM request.
type Credentials struct {
	APIID  string
	APIKey string
	Cookie string
}

// PolicyQuery selects rows from the egress policies endpoint.
type PolicyQuery struct {
	Columns []string
	Filters map[string]string
}

// Option configures the CRM client.
type Option func(*httpClient)

// WithEgressURL sets the read API root (for testing).
func WithEgressURL(u string) Option {
	return func(c *httpClient) {
		c.egressURL = strings.TrimRight(u, "/")
	}
}

// WithIngressURL sets the write API root (for testing).
func WithIngressURL(u string) Option {
	return func(c *httpClient) {
		c.ingressURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry replaces the retry policy for reads and plan writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithRateLimit caps outgoing requests per second across all callers.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithClearTimeout sets the per-request timeout for ClearPlanChangeResult.
func WithClearTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.clearTimeout = d
		}
	}
}

type httpClient struct {
	creds        Credentials
	egressURL    string
	ingressURL   string
	http         *http.Client
	retry        resilience.RetryConfig
	limiter      *rate.Limiter
	clearTimeout time.Duration
}

// NewClient creates a CRM client. Reads and plan writes retry every second
// until they succeed unless WithRetry says otherwise.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:      creds,
		egressURL:  DefaultEgressURL,
		ingressURL: DefaultIngressURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:        resilience.ForeverConfig(),
		clearTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchPlanState(ctx context.Context, leadID string) (model.PlanChangeState, error) {
	q := url.Values{}
	q.Set("columns", leadColumns)
	q.Set("import", "lead_custom_field")
	q.Set("lead_id", leadID)
	reqURL := c.egressURL + "/leads?" + q.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return model.PlanChangeState{}, eris.Wrapf(err, "crm: fetch plan state for lead %s", leadID)
	}

	results, err := decodeResults(body)
	if err != nil {
		return model.PlanChangeState{}, eris.Wrapf(err, "crm: decode plan state for lead %s", leadID)
	}

	rec := firstRecord(results)
	if rec == nil {
		return model.PlanChangeState{}, nil
	}
	return model.PlanChangeState{
		LastUpdateDate:   stringify(rec["marx_last_udpate"]),
		ContractCode:     stringify(rec["marx_contract"]),
		PBP:              stringify(rec["marx_pbp"]),
		PlanChangeResult: model.ParsePlanChangeResult(stringify(rec["marx_plan_change_result"])),
	}, nil
}

func (c *httpClient) WritePlanUpdate(ctx context.Context, u model.PlanUpdate) error {
	form := url.Values{}
	form.Set("lead_id", u.LeadID)
	form.Set("marx_last_udpate", u.LastUpdate)
	form.Set("marx_contract", u.ContractCode)
	form.Set("marx_pbp", u.PBP)
	form.Set("marx_plan_code_desc", u.PlanDescription)
	form.Set("marx_start_date", u.StartDate)
	form.Set("marx_carrier_name", u.CarrierName)
	form.Set("marx_plan_type", u.PlanType)
	form.Set("marx_plan_change_result", resultValue(u.PlanChangeResult))

	if err := c.put(ctx, form); err != nil {
		return eris.Wrapf(err, "crm: write plan update for lead %s", u.LeadID)
	}
	return nil
}

func (c *httpClient) WriteBlankUpdate(ctx context.Context, leadID, lastUpdate string) error {
	form := url.Values{}
	form.Set("lead_id", leadID)
	form.Set("marx_last_udpate", lastUpdate)

	if err := c.put(ctx, form); err != nil {
		return eris.Wrapf(err, "crm: write blank update for lead %s", leadID)
	}
	return nil
}

func (c *httpClient) ClearPlanChangeResult(ctx context.Context, leadID, claimNumber string) (int, error) {
	form := url.Values{}
	form.Set("lead_id", leadID)
	form.Set("medicare_claim_number", claimNumber)
	form.Set("marx_plan_change_result", NoneValue)

	ctx, cancel := context.WithTimeout(ctx, c.clearTimeout)
	defer cancel()

	status, _, err := c.do(ctx, http.MethodPut, c.ingressURL+"/leads", form)
	if err != nil {
		return 0, eris.Wrapf(err, "crm: clear plan change result for lead %s", leadID)
	}
	if status != http.StatusOK {
		return status, resilience.StatusError("crm", status)
	}
	return status, nil
}

func (c *httpClient) ListPolicies(ctx context.Context, q PolicyQuery) ([]model.Policy, error) {
	params := url.Values{}
	params.Set("columns", strings.Join(q.Columns, ","))
	params.Set("limit", "0")
	for k, v := range q.Filters {
		params.Set(k, v)
	}

	body, err := c.send(ctx, http.MethodGet, c.egressURL+"/policies?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "crm: list policies")
	}

	results, err := decodeResults(body)
	if err != nil {
		return nil, eris.Wrap(err, "crm: decode policies")
	}

	policies := make([]model.Policy, 0, len(results))
	for _, rec := range results {
		policies = append(policies, model.Policy{
			PolicyID:            stringify(rec["policy_id"]),
			LeadID:              stringify(rec["lead_id"]),
			MedicareClaimNumber: stringify(rec["lead_medicare_claim_number"]),
			StatusDescription:   stringify(rec["status_description"]),
			StatusID:            stringify(rec["status_id"]),
			DateEffective:       stringify(rec["date_effective"]),
			DateSold:            stringify(rec["date_sold"]),
		})
	}
	return policies, nil
}

// put sends an ingress write under the retry policy. Only a 200 counts.
func (c *httpClient) put(ctx context.Context, form url.Values) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		_, err := c.send(ctx, http.MethodPut, c.ingressURL+"/leads", form)
		return err
	})
}

// send performs one request and turns any non-200 response into a
// transient error.
func (c *httpClient) send(ctx context.Context, method, reqURL string, form url.Values) ([]byte, error) {
	status, body, err := c.do(ctx, method, reqURL, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, resilience.StatusError("crm", status)
	}
	return body, nil
}

func (c *httpClient) do(ctx context.Context, method, reqURL string, form url.Values) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, eris.Wrap(err, "crm: rate limit")
		}
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return 0, nil, eris.Wrap(err, "crm: create request")
	}
	req.Header.Set("tld-api-id", c.creds.APIID)
	req.Header.Set("tld-api-key", c.creds.APIKey)
	if c.creds.Cookie != "" {
		req.Header.Set("Cookie", c.creds.Cookie)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, resilience.NewTransientError(eris.Wrap(err, "crm: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, resilience.NewTransientError(eris.Wrap(err, "crm: read response body"), resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}

type envelope struct {
	Response struct {
		Results json.RawMessage `json:"results"`
	} `json:"response"`
}

// decodeResults unwraps {response:{results:...}}. A false, null or missing
// results value means no records.
func decodeResults(body []byte) ([]map[string]any, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, eris.Wrap(err, "unmarshal envelope")
	}

	raw := bytes.TrimSpace(env.Response.Results)
	if len(raw) == 0 || bytes.Equal(raw, []byte("false")) || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec = json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	switch raw[0] {
	case '[':
		var list []map[string]any
		if err := dec.Decode(&list); err != nil {
			return nil, eris.Wrap(err, "unmarshal results list")
		}
		return list, nil
	case '{':
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrap(err, "unmarshal results object")
		}
		return []map[string]any{rec}, nil
	default:
		return nil, eris.Errorf("unexpected results value %s", string(raw))
	}
}

func firstRecord(results []map[string]any) map[string]any {
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func resultValue(r model.PlanChangeResult) string {
	if r.IsNone() {
		return NoneValue
	}
	return string(r)
}
