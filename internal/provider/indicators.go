package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pricebot/internal/config"
	"pricebot/internal/domain"
)

const maxSummaryBytes = 1 << 20

// ErrInvalidSummary is returned when the indicator service answers with
// something that is not JSON.
var ErrInvalidSummary = errors.New("indicator summary is not valid JSON")

// HTTPIndicators fetches the technical-indicator summary from a JSON endpoint.
type HTTPIndicators struct {
	url    string
	apiKey string
	retry  *retrier
}

// HTTPIndicatorsConfig configures an HTTPIndicators client.
type HTTPIndicatorsConfig struct {
	URL     string
	APIKey  string // sent as a bearer token when set
	Timeout time.Duration
	Retries int
	Client  *http.Client // defaults to SharedHTTPClient(Timeout)
	Logger  *slog.Logger
}

func NewHTTPIndicators(cfg HTTPIndicatorsConfig) *HTTPIndicators {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPIndicators{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		retry: &retrier{
			client:  cfg.Client,
			retries: cfg.Retries,
			backoff: backoff,
			logger:  cfg.Logger.With("component", "indicators"),
		},
	}
}

// ComputeIndicators returns the summary body verbatim.
func (h *HTTPIndicators) ComputeIndicators(ctx context.Context) (json.RawMessage, error) {
	resp, err := h.retry.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if h.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch indicators: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSummaryBytes))
	if err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch indicators: %w", &statusError{statusCode: resp.StatusCode, body: strings.TrimSpace(string(body))})
	}
	body = []byte(strings.TrimSpace(string(body)))
	if !json.Valid(body) {
		return nil, ErrInvalidSummary
	}
	return json.RawMessage(body), nil
}

// StaticIndicators serves a fixed summary.
type StaticIndicators struct {
	summary json.RawMessage
}

// NewStaticIndicators wraps summary, which must be valid JSON. An empty
// summary serves `{}`.
func NewStaticIndicators(summary string) (*StaticIndicators, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = "{}"
	}
	if !json.Valid([]byte(summary)) {
		return nil, ErrInvalidSummary
	}
	return &StaticIndicators{summary: json.RawMessage(summary)}, nil
}

func (s *StaticIndicators) ComputeIndicators(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append(json.RawMessage(nil), s.summary...), nil
}

// NewIndicators picks the HTTP client when a URL is configured and the static
// summary otherwise.
func NewIndicators(cfg config.IndicatorsConfig, logger *slog.Logger) (domain.IndicatorService, error) {
	if cfg.URL == "" {
		static, err := NewStaticIndicators(cfg.Static)
		if err != nil {
			return nil, err
		}
		return static, nil
	}
	return NewHTTPIndicators(HTTPIndicatorsConfig{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retries: defaultRetries,
		Logger:  logger,
	}), nil
}
