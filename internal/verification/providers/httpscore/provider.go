// Package httpscore adapts an HTTP JSON scoring service to providers.Provider.
// One client type serves every provider kind; the kind selects the endpoint.
package httpscore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"verigate/internal/verification/providers"
)

const maxResponseBytes = 1 << 20

// Provider calls POST {baseURL}/v1/score/{kind}.
type Provider struct {
	id      string
	kind    providers.Kind
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New creates a scoring provider for kind.
func New(id string, kind providers.Kind, baseURL, apiKey string, timeout time.Duration, opts ...Option) *Provider {
	p := &Provider{
		id:      id,
		kind:    kind,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) Kind() providers.Kind { return p.kind }

type scoreRequest struct {
	VerificationID string `json:"verification_id"`
	Kind           string `json:"kind"`
	FrontPath      string `json:"front_path,omitempty"`
	BackPath       string `json:"back_path,omitempty"`
	SelfiePath     string `json:"selfie_path,omitempty"`
	Sandbox        bool   `json:"sandbox"`
}

type scoreResponse struct {
	Score     *float64          `json:"score"`
	Passed    bool              `json:"passed"`
	Fields    map[string]string `json:"fields"`
	CheckedAt string            `json:"checked_at"`
}

// Evaluate posts the request and normalizes the response or failure.
func (p *Provider) Evaluate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	body, err := json.Marshal(scoreRequest{
		VerificationID: req.VerificationID.String(),
		Kind:           string(p.kind),
		FrontPath:      req.FrontPath,
		BackPath:       req.BackPath,
		SelfiePath:     req.SelfiePath,
		Sandbox:        req.IsSandbox,
	})
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, p.id, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/score/"+string(p.kind), bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, p.id, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, p.transportError(err)
	}

	result, err := parseScoreResponse(p.id, p.kind, resp.StatusCode, respBody, p.now)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Health calls GET {baseURL}/health.
func (p *Provider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return p.transportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return categorizeStatus(p.id, resp.StatusCode)
	}
	return nil
}

func (p *Provider) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return providers.NewProviderError(providers.ErrorTimeout, p.id, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return providers.NewProviderError(providers.ErrorInternal, p.id, "request canceled", err)
	}
	return providers.NewProviderError(providers.ErrorProviderOutage, p.id, "request failed", err)
}

func categorizeStatus(providerID string, status int) error {
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return providers.NewProviderError(providers.ErrorRateLimited, providerID, msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return providers.NewProviderError(providers.ErrorAuthentication, providerID, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return providers.NewProviderError(providers.ErrorTimeout, providerID, msg, nil)
	case status >= 500:
		return providers.NewProviderError(providers.ErrorProviderOutage, providerID, msg, nil)
	default:
		return providers.NewProviderError(providers.ErrorBadData, providerID, msg, nil)
	}
}

func parseScoreResponse(providerID string, kind providers.Kind, status int, body []byte, now func() time.Time) (*providers.Result, error) {
	if status != http.StatusOK {
		return nil, categorizeStatus(providerID, status)
	}

	var resp scoreResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.NewProviderError(providers.ErrorContractMismatch, providerID, "decode response", err)
	}
	if resp.Score == nil {
		return nil, providers.NewProviderError(providers.ErrorContractMismatch, providerID, "response missing score", nil)
	}
	if *resp.Score < 0 || *resp.Score > 1 {
		return nil, providers.NewProviderError(providers.ErrorContractMismatch, providerID,
			fmt.Sprintf("score %v out of range", *resp.Score), nil)
	}

	checkedAt, err := time.Parse(time.RFC3339, resp.CheckedAt)
	if err != nil {
		checkedAt = now()
	}

	return &providers.Result{
		ProviderID: providerID,
		Kind:       kind,
		Score:      *resp.Score,
		Passed:     resp.Passed,
		Fields:     resp.Fields,
		CheckedAt:  checkedAt,
	}, nil
}
