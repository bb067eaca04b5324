package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/resilience"
)

// Error codes returned by the sidecar in {"error": "..."} bodies.
const (
	codeInvalidMBI       = "invalid_mbi"
	codeNotFound         = "beneficiary_not_found"
	codeNoVerification   = "no_verification_code"
	codeTableLoadTimeout = "timeout"
)

// Option configures the sidecar client.
type Option func(*SidecarClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *SidecarClient) {
		c.http = hc
	}
}

// WithLookupRetry sets the retry policy for eligibility lookups.
func WithLookupRetry(cfg resilience.RetryConfig) Option {
	return func(c *SidecarClient) {
		c.retry = cfg
	}
}

// WithOnRetry adds a callback run before each lookup retry.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *SidecarClient) {
		c.onRetry = fn
	}
}

// SidecarClient opens portal sessions through the lookup sidecar.
type SidecarClient struct {
	baseURL     string
	credentials []Credential
	http        *http.Client
	retry       resilience.RetryConfig
	onRetry     func(int, error)
}

// NewSidecarClient creates an Opener backed by the sidecar at baseURL.
// Lookups are retried 3 times on timeouts by default.
func NewSidecarClient(baseURL string, credentials []Credential, opts ...Option) *SidecarClient {
	c := &SidecarClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		http: &http.Client{
			// A lookup waits up to 60s for the eligibility table.
			Timeout: 90 * time.Second,
		},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 10 * time.Second,
			MaxBackoff:     10 * time.Second,
			Multiplier:     1.0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Mailbox  string `json:"mailbox"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

type lookupResponse struct {
	Row []string `json:"row"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Open signs in with the credential set for partition (1-based).
func (c *SidecarClient) Open(ctx context.Context, partition int) (Session, error) {
	if partition < 1 || partition > len(c.credentials) {
		return nil, eris.Errorf("portal: no credentials for partition %d (have %d)", partition, len(c.credentials))
	}
	cred := c.credentials[partition-1]

	payload, err := json.Marshal(openRequest(cred))
	if err != nil {
		return nil, eris.Wrap(err, "portal: marshal open request")
	}

	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+"/sessions", payload)
	if err != nil {
		return nil, eris.Wrap(err, "portal: open session")
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, eris.Wrapf(classify(status, body), "portal: open session for partition %d", partition)
	}

	var resp openResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "portal: unmarshal open response")
	}
	if resp.SessionID == "" {
		return nil, eris.New("portal: open session returned no session id")
	}

	zap.L().Info("portal: session opened", zap.Int("partition", partition), zap.String("user", cred.Username))
	return &sidecarSession{client: c, id: resp.SessionID, partition: partition}, nil
}

type sidecarSession struct {
	client    *SidecarClient
	id        string
	partition int
}

func (s *sidecarSession) Lookup(ctx context.Context, mbi string) (Row, error) {
	reqURL := fmt.Sprintf("%s/sessions/%s/eligibility?mbi=%s", s.client.baseURL, url.PathEscape(s.id), url.QueryEscape(mbi))

	cfg := s.client.retry
	cfg.OnRetry = resilience.Chain(
		resilience.RetryLogger("portal", "lookup", zap.Int("partition", s.partition)),
		s.client.onRetry,
	)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (Row, error) {
		status, body, err := s.client.do(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, classify(status, body)
		}
		var resp lookupResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, eris.Wrap(err, "portal: unmarshal lookup response")
		}
		return Row(resp.Row), nil
	})
}

func (s *sidecarSession) Close(ctx context.Context) error {
	status, body, err := s.client.do(ctx, http.MethodDelete, s.client.baseURL+"/sessions/"+url.PathEscape(s.id), nil)
	if err != nil {
		return eris.Wrap(err, "portal: close session")
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return eris.Errorf("portal: close session: status %d: %s", status, string(body))
	}
	return nil
}

func (c *SidecarClient) do(ctx context.Context, method, reqURL string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return 0, nil, eris.Wrap(err, "portal: create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, resilience.NewTransientError(eris.Wrap(err, "portal: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, eris.Wrap(err, "portal: read response body")
	}
	return resp.StatusCode, body, nil
}

// classify maps a non-success sidecar response to a sentinel or a
// transient error.
func classify(status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	switch er.Error {
	case codeInvalidMBI:
		return ErrInvalidMBI
	case codeNotFound:
		return ErrBeneficiaryNotFound
	case codeNoVerification:
		return ErrNoVerificationCode
	case codeTableLoadTimeout:
		return resilience.NewTransientError(eris.Errorf("portal: eligibility table did not load: %s", er.Message), status)
	}

	if resilience.IsTransientHTTPStatus(status) {
		return resilience.StatusError("portal", status)
	}
	return eris.Errorf("portal: unexpected status %d: %s", status, string(body))
}
