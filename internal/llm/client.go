package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
)

// messagesPath is the provider's canonical message-completion path.
const messagesPath = "/v1/messages"

const (
	anthropicVersion  = "2023-06-01"
	defaultMaxRetries = 2
	defaultBackoff    = 500 * time.Millisecond
	maxKeywords       = 10
	keywordMaxTokens  = 256
)

// Rate limiter: 50 requests per minute with small bursts, matching the
// provider's conservative tier.
const (
	rateLimit = 50.0 / 60.0
	rateBurst = 5
)

// Config configures the analysis client. Credential precedence:
// AuthToken (host-provided, used with the host-configured model and base
// URL) wins over APIKey (user-supplied, used with the default model).
// With neither set the client is disabled and never touches the network.
type Config struct {
	AuthToken string
	APIKey    string

	BaseURL string
	Model   string

	// UseBearerAuth sends "Authorization: Bearer" instead of the
	// provider-native X-API-Key header.
	UseBearerAuth bool

	// SkipTLSVerify disables certificate verification for internal
	// proxies. Default off.
	SkipTLSVerify bool

	MaxTokens int
	Timeout   time.Duration
}

// SessionAnalysis is the structured result of analyzing one session.
type SessionAnalysis struct {
	Investigated string                `json:"investigated"`
	Learned      string                `json:"learned"`
	Completed    string                `json:"completed"`
	NextSteps    string                `json:"next_steps"`
	Observations []AnalyzedObservation `json:"observations"`
}

// AnalyzedObservation is one observation as returned by the model. The
// type and concept values are not enforced against the vocabularies.
type AnalyzedObservation struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Insight  string   `json:"insight"`
	Concepts []string `json:"concepts"`
	Files    []string `json:"files"`
}

// Client calls the LLM provider's non-streaming messages endpoint.
type Client struct {
	endpoint   string
	credential string
	useBearer  bool
	model      string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
}

// NewClient resolves credentials and the endpoint per Config.
//
// A client without credentials is valid but disabled: Enabled() reports
// false and analysis methods return nil results without a network call.
// An unparseable endpoint is a *ConfigurationError.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	credential := cfg.AuthToken
	if credential == "" {
		credential = cfg.APIKey
	}

	c := &Client{
		credential: credential,
		useBearer:  cfg.UseBearerAuth,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		limiter:    rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 1024
	}

	if credential == "" {
		return c, nil
	}

	endpoint, err := resolveEndpoint(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	c.endpoint = endpoint

	transport := http.DefaultTransport
	if cfg.SkipTLSVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c.httpClient = &http.Client{Transport: transport, Timeout: timeout}

	return c, nil
}

// resolveEndpoint builds the messages URL from a configured base. A base
// already carrying the messages path is used verbatim; otherwise the
// canonical suffix is appended after stripping a trailing slash.
func resolveEndpoint(baseURL string) (string, error) {
	if baseURL == "" {
		return "", &ConfigurationError{Reason: "base URL is empty"}
	}

	endpoint := baseURL
	if !strings.HasSuffix(baseURL, messagesPath) {
		endpoint = strings.TrimSuffix(baseURL, "/") + messagesPath
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &ConfigurationError{Reason: fmt.Sprintf("invalid endpoint %q", endpoint)}
	}
	return endpoint, nil
}

// Enabled reports whether credentials were resolved.
func (c *Client) Enabled() bool { return c.credential != "" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// AnalyzeSession turns an ordered batch of session events into a summary
// plus observations. Returns (nil, nil) when the client is disabled and
// (nil, err) for transport or parse failures; callers treat both as
// "analysis unavailable" and never propagate.
func (c *Client) AnalyzeSession(ctx context.Context, events []eventlog.Record) (*SessionAnalysis, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if len(events) == 0 {
		return nil, nil
	}

	text, err := c.complete(ctx, buildAnalysisPrompt(events), c.maxTokens)
	if err != nil {
		return nil, err
	}

	region := extractObject(text)
	if region == "" {
		return nil, &ParseError{Reason: "no balanced object in response"}
	}

	var analysis SessionAnalysis
	if err := json.Unmarshal([]byte(region), &analysis); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid analysis object: %v", err)}
	}
	return &analysis, nil
}

// ExtractKeywords asks for up to 10 ranked keywords. The caller bounds the
// call with a short context deadline; the query engine falls back to local
// tokenization on any error.
func (c *Client) ExtractKeywords(ctx context.Context, text string) ([]string, error) {
	if !c.Enabled() {
		return nil, &ConfigurationError{Reason: "no credentials"}
	}

	response, err := c.complete(ctx, buildKeywordPrompt(text, maxKeywords), keywordMaxTokens)
	if err != nil {
		return nil, err
	}

	region := extractArray(response)
	if region == "" {
		return nil, &ParseError{Reason: "no balanced array in response"}
	}

	var keywords []string
	if err := json.Unmarshal([]byte(region), &keywords); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid keyword array: %v", err)}
	}
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords, nil
}

// messagesRequest is the provider request shape.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the provider response shape.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type messagesError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs one non-streaming completion with bounded retries for
// transient transport failures. Parse failures are never retried.
func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &TransportError{Err: err}
	}

	req := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", &TransportError{Err: ctx.Err()}
			}
		}

		response, err := c.doRequest(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", &TransportError{Err: err}
		}
		c.logger.Debug("retrying llm request",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", &TransportError{Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

// doRequest performs the HTTP exchange against the messages endpoint.
func (c *Client) doRequest(ctx context.Context, req messagesRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.useBearer {
		httpReq.Header.Set("Authorization", "Bearer "+c.credential)
	} else {
		httpReq.Header.Set("X-API-Key", c.credential)
		httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp messagesError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response envelope: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return parsed.Content[0].Text, nil
}
