package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orchestrix/ctrlplane/core"
	"github.com/orchestrix/ctrlplane/resilience"
)

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL      string
	RestartURL   string
	HealthPath   string
	CompletePath string
	Timeout      time.Duration
	Retry        *resilience.RetryConfig
}

// HTTPClient is a JSON-over-HTTP implementation of PrimaryClient (and,
// wrapped in DirectHTTPProvider, of DirectProvider), modeled on the
// teacher's provider BaseClient: a per-call timeout, with unreachable
// upstreams and 5xx responses retried through resilience.Retry.
type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
	logger core.Logger
}

// NewHTTPClient constructs an HTTPClient. Used both as the co-hosted
// PrimaryClient (BaseURL pointing at the sidecar) and, with a different
// BaseURL per service, as a DirectProvider.
func NewHTTPClient(cfg HTTPClientConfig, logger core.Logger) *HTTPClient {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.CompletePath == "" {
		cfg.CompletePath = "/v1/complete"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("router")
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type completeRequest struct {
	Prompt  string                 `json:"prompt"`
	Model   string                 `json:"model,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type completeResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Send implements PrimaryClient, posting to the co-hosted completion endpoint.
func (h *HTTPClient) Send(ctx context.Context, req Request) (*Response, error) {
	return h.post(ctx, h.cfg.BaseURL+h.cfg.CompletePath, req, "")
}

// DirectHTTPProvider adapts an HTTPClient to the DirectProvider interface,
// whose Send takes a per-call credential rather than relying on ambient
// configuration the way the co-hosted PrimaryClient does.
type DirectHTTPProvider struct {
	client *HTTPClient
}

// NewDirectHTTPProvider wraps client as a DirectProvider.
func NewDirectHTTPProvider(client *HTTPClient) *DirectHTTPProvider {
	return &DirectHTTPProvider{client: client}
}

// Send implements DirectProvider, posting the same payload to the
// upstream's own endpoint, authenticated with apiKey as a bearer token.
func (p *DirectHTTPProvider) Send(ctx context.Context, req Request, apiKey string) (*Response, error) {
	return p.client.post(ctx, p.client.cfg.BaseURL+p.client.cfg.CompletePath, req, apiKey)
}

// post sends req and decodes the upstream response, retrying transient
// transport failures (unreachable, 5xx) with resilience.Retry's backoff —
// the same attempt/log/continue shape the teacher's BaseClient uses, just
// against a single upstream instead of a provider chain. A 4xx is a
// non-retryable rejection of the request itself and returns immediately.
func (h *HTTPClient) post(ctx context.Context, url string, req Request, apiKey string) (*Response, error) {
	body, err := json.Marshal(completeRequest{Prompt: req.Prompt, Model: req.Model, Options: req.Options})
	if err != nil {
		return nil, fmt.Errorf("router: encode request: %w", err)
	}

	var parsed completeResponse
	var rejected error

	retryErr := resilience.Retry(ctx, h.cfg.Retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("router: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := h.client.Do(httpReq)
		if err != nil {
			h.logger.Debug("upstream unreachable, will retry", map[string]interface{}{"url": url, "error": err.Error()})
			return fmt.Errorf("router: %s unreachable: %w", url, core.ErrConnectionFailed)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("router: read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			h.logger.Debug("upstream server error, will retry", map[string]interface{}{"url": url, "status": resp.StatusCode})
			return fmt.Errorf("router: %s returned %d: %w", url, resp.StatusCode, core.ErrConnectionFailed)
		}
		if resp.StatusCode >= 400 {
			rejected = fmt.Errorf("router: %s returned %d: %w", url, resp.StatusCode, core.ErrConnectionFailed)
			return nil
		}
		return json.Unmarshal(data, &parsed)
	})
	if rejected != nil {
		return nil, rejected
	}
	if retryErr != nil {
		return nil, retryErr
	}

	return &Response{
		Content: parsed.Content,
		Model:   parsed.Model,
		Usage:   parsed.Usage,
		Service: req.Service,
	}, nil
}

// HealthCheck implements PrimaryClient, probing the co-hosted service's
// health endpoint.
func (h *HTTPClient) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+h.cfg.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("router: build health check: %w", err)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("router: health check unreachable: %w", core.ErrConnectionFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("router: health check returned %d: %w", resp.StatusCode, core.ErrConnectionFailed)
	}
	return nil
}

// Restart implements monitor.PrimaryAutoStart, posting to the configured
// restart hook. Returns ErrMissingConfiguration if no RestartURL was set —
// auto-restart is opt-in, not assumed.
func (h *HTTPClient) Restart(ctx context.Context) error {
	if h.cfg.RestartURL == "" {
		return fmt.Errorf("router: no restart hook configured: %w", core.ErrMissingConfiguration)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.RestartURL, nil)
	if err != nil {
		return fmt.Errorf("router: build restart request: %w", err)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("router: restart hook unreachable: %w", core.ErrConnectionFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("router: restart hook returned %d: %w", resp.StatusCode, core.ErrConnectionFailed)
	}
	h.logger.Info("primary restart triggered", map[string]interface{}{"url": h.cfg.RestartURL})
	return nil
}
