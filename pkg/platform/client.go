package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Header carrying the account access key on every platform request.
const AccessKeyHeader = "X-Access-Key"

var ErrInvalidBaseURL = errors.New("invalid base url")

// TransportError is returned for every non-2xx response. The response body is kept verbatim.
type TransportError struct {
	StatusCode  int
	Description string
	URL         string
	Body        string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %d %s: %s", e.URL, e.StatusCode, e.Description, e.Body)
}

// Client talks to the platform's REST API.
type Client struct {
	baseURL   *url.URL
	accessKey string
	format    Format
	http      *http.Client
	timeout   time.Duration
	log       zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithTimeout bounds every request. A client passed to WithHTTPClient is copied, never changed.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// WithFormat sets the body format used by the command methods.
func WithFormat(format Format) Option {
	return func(c *Client) { c.format = format }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

func New(baseURL string, accessKey string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}

	client := &Client{
		baseURL:   parsed,
		accessKey: accessKey,
		format:    FormatXML,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log.Logger,
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.http == nil {
		client.http = &http.Client{Timeout: 30 * time.Second}
	}
	if client.timeout > 0 {
		copied := *client.http
		copied.Timeout = client.timeout
		client.http = &copied
	}
	return client, nil
}

// NormalizeBaseURL validates an absolute http(s) URL and makes sure it ends with a slash.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Resolve joins a relative path (with optional query) onto the base URL.
func (c *Client) Resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return "", err
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// Send performs one request against a path relative to the base URL.
// Non-2xx responses come back as *TransportError.
func (c *Client) Send(ctx context.Context, method string, path string, body []byte, format Format) (int, string, error) {
	target, err := c.Resolve(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return c.send(ctx, method, target, body, format, true)
}

func (c *Client) send(ctx context.Context, method string, target string, body []byte, format Format, authenticate bool) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", format.ContentType())
	}
	req.Header.Set("Accept", format.ContentType())
	if authenticate && c.accessKey != "" {
		req.Header.Set(AccessKeyHeader, c.accessKey)
	}

	c.log.Debug().Str("method", method).Str("url", target).Msg("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response from %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, string(data), &TransportError{
			StatusCode:  resp.StatusCode,
			Description: reasonPhrase(resp),
			URL:         target,
			Body:        string(data),
		}
	}
	return resp.StatusCode, string(data), nil
}

// Do serializes in, sends it and deserializes the response into out. Either may be nil.
func (c *Client) Do(ctx context.Context, method string, path string, in any, out any, format Format) error {
	var body []byte
	if in != nil {
		data, err := Serialize(in, format)
		if err != nil {
			return fmt.Errorf("failed to serialize request: %w", err)
		}
		body = data
	}

	_, response, err := c.Send(ctx, method, path, body, format)
	if err != nil {
		return err
	}

	if out == nil || strings.TrimSpace(response) == "" {
		return nil
	}
	if err := Deserialize([]byte(response), out, format); err != nil {
		return fmt.Errorf("failed to deserialize response: %w", err)
	}
	return nil
}

// The reason phrase as sent by the server, falling back to the standard text.
func reasonPhrase(resp *http.Response) string {
	phrase := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if phrase == "" {
		phrase = http.StatusText(resp.StatusCode)
	}
	return phrase
}
