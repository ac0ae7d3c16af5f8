// Package deepl is a minimal client for the three DeepL v2 endpoints this
// pipeline needs: POST /translate, GET /usage, and GET /languages. It is
// deliberately narrow — no glossary management, no document translation —
// matching only the wire contract described in the DeepL v2 API.
package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Base URLs for the three credential classes the pipeline ever dials.
const (
	BaseURLPro  = "https://api.deepl.com/v2"
	BaseURLFree = "https://api-free.deepl.com/v2"
	BaseURLMock = "http://127.0.0.1:3030/v2"
)

// APIError is returned for any non-2xx response from the DeepL API.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == 456 {
		return "deepl: quota exceeded or too many requests"
	}
	return fmt.Sprintf("deepl: unexpected status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Client is a single-credential DeepL v2 client.
type Client struct {
	authKey string
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (the otelhttp-wrapped
// default is otherwise used).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New returns a Client that authenticates with authKey against baseURL.
func New(authKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		authKey: authKey,
		baseURL: baseURL,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type translateRequest struct {
	Text       []string `json:"text"`
	TargetLang string   `json:"target_lang"`
}

type translation struct {
	DetectedSourceLanguage string `json:"detected_source_language"`
	Text                   string `json:"text"`
}

type translateResponse struct {
	Translations []translation `json:"translations"`
}

// Translate sends a single text fragment for translation and returns the
// first translation string in the response. A transport error, a non-2xx
// status, malformed JSON, or a missing translations[0] are all reported as
// a plain error; callers decide whether that is retryable.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: []string{text}, TargetLang: targetLang})
	if err != nil {
		return "", fmt.Errorf("deepl: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: b}
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("deepl: decode response: %w", err)
	}
	if len(out.Translations) == 0 {
		return "", fmt.Errorf("deepl: response contained no translations")
	}
	return out.Translations[0].Text, nil
}

// Usage is the decoded response of GET /usage.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Residual returns CharacterLimit - CharacterCount.
func (u Usage) Residual() int64 {
	return u.CharacterLimit - u.CharacterCount
}

// GetUsage fetches the credential's current usage and quota.
func (c *Client) GetUsage(ctx context.Context) (Usage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/usage", nil)
	if err != nil {
		return Usage{}, fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Usage{}, fmt.Errorf("deepl: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Usage{}, &APIError{StatusCode: resp.StatusCode, Body: b}
	}

	var out Usage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Usage{}, fmt.Errorf("deepl: decode response: %w", err)
	}
	return out, nil
}

// Language is one entry of GET /languages.
type Language struct {
	Language          string `json:"language"`
	Name              string `json:"name,omitempty"`
	SupportsFormality bool   `json:"supports_formality,omitempty"`
}

// GetLanguagesOptions configures GetLanguages.
type GetLanguagesOptions struct {
	// Type is passed as the "type" query parameter ("source" or "target").
	Type string
}

// GetLanguages fetches the list of supported languages.
func (c *Client) GetLanguages(ctx context.Context, opts GetLanguagesOptions) ([]Language, error) {
	u := c.baseURL + "/languages"
	if opts.Type != "" {
		u += "?" + url.Values{"type": {opts.Type}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: b}
	}

	var out []Language
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("deepl: decode response: %w", err)
	}
	return out, nil
}

// ClassifyBaseURL probes GET /usage against BaseURLPro with authKey; success
// means the key is a pro credential, any failure means it should be treated
// as free-tier.
func ClassifyBaseURL(ctx context.Context, authKey string) string {
	probe := New(authKey, BaseURLPro)
	if _, err := probe.GetUsage(ctx); err == nil {
		return BaseURLPro
	}
	return BaseURLFree
}
