package gemini

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "models/gemini-1.5-flash"
	DefaultTimeout = 30 * time.Second
	DefaultTTL     = time.Hour

	MethodGenerateContent       = "generateContent"
	MethodCountTokens           = "countTokens"
	MethodStreamGenerateContent = "streamGenerateContent"
)

// ResponseCache stores raw successful response bodies. internal/cache
// provides in-process and Redis implementations.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Client talks to a single Gemini model with a fixed API key. It holds no
// per-call state and is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger

	cache     ResponseCache
	cacheTTL  time.Duration
	recorders []Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root including the version segment,
// e.g. "https://generativelanguage.googleapis.com/v1beta".
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithModel selects the model. A bare name such as "gemini-2.0-flash" gets
// the "models/" prefix.
func WithModel(m string) Option {
	return func(c *Client) { c.model = m }
}

// WithHTTPClient replaces the transport. WithTimeout is ignored when set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithCache enables response caching. A non-positive ttl means DefaultTTL.
func WithCache(cache ResponseCache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

func WithRecorder(rs ...Recorder) Option {
	return func(c *Client) { c.recorders = append(c.recorders, rs...) }
}

// New creates a Client for apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	c.model = normalizeModel(c.model)
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultTTL
	}
	return c
}

// Model returns the resource name used in request paths, e.g.
// "models/gemini-1.5-flash".
func (c *Client) Model() string { return c.model }

// Endpoint returns the URL for method without the API key.
func (c *Client) Endpoint(method string) string {
	return c.baseURL + "/" + c.model + ":" + method
}

// Generate sends contents to generateContent and returns the first
// candidate's text, or "" on any failure.
func (c *Client) Generate(ctx context.Context, contents Contents) string {
	raw, rec := c.call(ctx, MethodGenerateContent, contents)
	defer c.record(rec)

	if raw == nil {
		return ""
	}
	text, ok := candidateText(gjson.ParseBytes(raw))
	if !ok {
		rec.Outcome = OutcomeShapeMismatch
		c.log.DebugContext(ctx, "gemini: response has no candidate text",
			slog.String("method", MethodGenerateContent),
			slog.String("model", c.model),
		)
	}
	return text
}

// CountTokens sends contents to countTokens and returns totalTokens, or -1 on
// any failure.
func (c *Client) CountTokens(ctx context.Context, contents Contents) int {
	raw, rec := c.call(ctx, MethodCountTokens, contents)
	defer c.record(rec)

	if raw == nil {
		return -1
	}
	n, ok := totalTokens(gjson.ParseBytes(raw))
	if !ok {
		rec.Outcome = OutcomeShapeMismatch
		c.log.DebugContext(ctx, "gemini: response has no totalTokens",
			slog.String("method", MethodCountTokens),
			slog.String("model", c.model),
		)
		return -1
	}
	return n
}

// StreamGenerateContent sends contents to streamGenerateContent. The whole
// body is read before this method returns; the body must be a JSON array and
// each element yields the text of its first candidate ("" when it has none).
// A failed call or a non-array body yields an empty sequence.
//
// The sequence can be ranged over once; later ranges yield nothing.
func (c *Client) StreamGenerateContent(ctx context.Context, contents Contents) iter.Seq[string] {
	raw, rec := c.call(ctx, MethodStreamGenerateContent, contents)
	defer c.record(rec)

	var elems []gjson.Result
	root := gjson.ParseBytes(raw)
	if raw == nil || !root.IsArray() {
		if raw != nil {
			rec.Outcome = OutcomeShapeMismatch
		}
		c.log.ErrorContext(ctx, "gemini: response is not an array",
			slog.String("method", MethodStreamGenerateContent),
			slog.String("model", c.model),
			slog.String("outcome", string(rec.Outcome)),
		)
	} else {
		elems = root.Array()
	}

	var used atomic.Bool
	return func(yield func(string) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		for _, el := range elems {
			text, _ := candidateText(el)
			if !yield(text) {
				return
			}
		}
	}
}

func (c *Client) record(rec *CallRecord) {
	for _, r := range c.recorders {
		r.Record(*rec)
	}
}

func normalizeModel(m string) string {
	m = strings.Trim(strings.TrimSpace(m), "/")
	if m == "" {
		return DefaultModel
	}
	if !strings.Contains(m, "/") {
		return "models/" + m
	}
	return m
}
