package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/quorumlabs/quorum/internal/credentials"
	"github.com/quorumlabs/quorum/internal/model"
)

// HTTPAdapter is a generic JSON-over-HTTP adapter for upstream providers
// that accept a {system, prompt} body and return {"text": "..."}. Real
// provider-specific wire formats are an external collaborator per spec §1;
// this is the uniform shape the Engine dispatches through.
type HTTPAdapter struct {
	cfg      model.ProviderConfig
	client   *http.Client
	resolver credentials.Resolver
}

// NewHTTPAdapter builds an HTTPAdapter bound to cfg, resolving its
// credential through resolver.
func NewHTTPAdapter(cfg model.ProviderConfig, resolver credentials.Resolver) (Adapter, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
	}, nil
}

func (h *HTTPAdapter) Name() string                 { return h.cfg.Name }
func (h *HTTPAdapter) Config() model.ProviderConfig { return h.cfg }

type httpRequestBody struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
}

type httpResponseBody struct {
	Text string `json:"text"`
}

// Generate honors the adapter's per-provider timeout (spec §4.3) by
// deriving a context deadline, and retries transient failures with
// exponential backoff before letting the Engine apply its own
// retry/fallback policy on top.
func (h *HTTPAdapter) Generate(ctx context.Context, prompt, system string) (string, error) {
	timeout := time.Duration(h.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operation := func() (string, error) {
		return h.doRequest(callCtx, prompt, system)
	}

	return backoff.Retry(callCtx, operation,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
}

func (h *HTTPAdapter) doRequest(ctx context.Context, prompt, system string) (string, error) {
	token, err := h.resolver.Resolve(ctx, h.cfg.AuthSpec)
	if err != nil {
		return "", fmt.Errorf("provider %s: resolve credential: %w", h.cfg.Name, err)
	}

	body, err := json.Marshal(httpRequestBody{Model: h.cfg.ModelID, System: system, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("provider %s: encode request: %w", h.cfg.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider %s: build request: %w", h.cfg.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider %s: request failed: %w", h.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("provider %s: upstream status %d", h.cfg.Name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(fmt.Errorf("provider %s: upstream status %d", h.cfg.Name, resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("provider %s: read response: %w", h.cfg.Name, err)
	}

	var parsed httpResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("provider %s: decode response: %w", h.cfg.Name, err)
	}
	if parsed.Text == "" {
		return "", fmt.Errorf("provider %s: empty response", h.cfg.Name)
	}
	return parsed.Text, nil
}
