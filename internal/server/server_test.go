package server

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// fakeGenerator returns canned results and remembers the last contents.
type fakeGenerator struct {
	mu     sync.Mutex
	last   gemini.Contents
	text   string
	tokens int
	texts  []string
}

func (f *fakeGenerator) remember(c gemini.Contents) {
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
}

func (f *fakeGenerator) Generate(_ context.Context, c gemini.Contents) string {
	f.remember(c)
	return f.text
}

func (f *fakeGenerator) CountTokens(_ context.Context, c gemini.Contents) int {
	f.remember(c)
	return f.tokens
}

func (f *fakeGenerator) StreamGenerateContent(_ context.Context, c gemini.Contents) iter.Seq[string] {
	f.remember(c)
	return slices.Values(f.texts)
}

func (f *fakeGenerator) Model() string { return "models/fake" }

func (f *fakeGenerator) lastContents() gemini.Contents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeMetrics struct {
	mu       sync.Mutex
	inFlight int
	observed map[string][]int
}

func (m *fakeMetrics) IncInFlight() { m.mu.Lock(); m.inFlight++; m.mu.Unlock() }
func (m *fakeMetrics) DecInFlight() { m.mu.Lock(); m.inFlight--; m.mu.Unlock() }
func (m *fakeMetrics) ObserveHTTP(route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observed == nil {
		m.observed = map[string][]int{}
	}
	m.observed[route] = append(m.observed[route], status)
}

// serve starts s on an in-memory listener and returns an HTTP client bound
// to it.
func serve(t *testing.T, s *Server) *http.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		_ = ln.Close()
	})

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func post(t *testing.T, c *http.Client, path, body string) (int, map[string]any, http.Header) {
	t.Helper()
	resp, err := c.Post("http://relay"+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out, resp.Header
}

const helloBody = `{"contents":[{"parts":[{"text":"hello"}],"role":"user"}]}`

func TestServer_Generate(t *testing.T) {
	gen := &fakeGenerator{text: "hi there"}
	c := serve(t, New(gen, Options{}))

	status, out, hdr := post(t, c, "/v1/generate", helloBody)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hi there", out["text"])
	assert.NotEmpty(t, hdr.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", hdr.Get("X-Content-Type-Options"))

	turns := gen.lastContents().Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, gemini.RoleUser, turns[0].Role())
	assert.Equal(t, "hello", turns[0].Parts()[0].Text())
}

func TestServer_SentinelsPassThrough(t *testing.T) {
	gen := &fakeGenerator{text: "", tokens: -1}
	c := serve(t, New(gen, Options{}))

	status, out, _ := post(t, c, "/v1/generate", helloBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", out["text"])

	status, out, _ = post(t, c, "/v1/count-tokens", helloBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(-1), out["totalTokens"])

	status, out, _ = post(t, c, "/v1/stream", helloBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, out["texts"])
}

func TestServer_CountTokensAndStream(t *testing.T) {
	gen := &fakeGenerator{tokens: 42, texts: []string{"a", "", "b"}}
	c := serve(t, New(gen, Options{}))

	_, out, _ := post(t, c, "/v1/count-tokens", helloBody)
	assert.Equal(t, float64(42), out["totalTokens"])

	_, out, _ = post(t, c, "/v1/stream", helloBody)
	assert.Equal(t, []any{"a", "", "b"}, out["texts"])
}

func TestServer_InvalidBodies(t *testing.T) {
	c := serve(t, New(&fakeGenerator{}, Options{}))

	for _, body := range []string{
		``,
		`{not json`,
		`[]`,
		`{"contents":{}}`,
		`{"contents":[{"parts":"x"}]}`,
	} {
		status, out, _ := post(t, c, "/v1/generate", body)
		assert.Equal(t, http.StatusBadRequest, status, "body %q", body)

		errObj, _ := out["error"].(map[string]any)
		assert.Equal(t, "invalid_request_error", errObj["type"], "body %q", body)
	}
}

func TestServer_HealthAndRouting(t *testing.T) {
	c := serve(t, New(&fakeGenerator{}, Options{}))

	resp, err := c.Get("http://relay/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, map[string]string{"status": "ok", "model": "models/fake"}, health)

	resp, err = c.Get("http://relay/v1/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = c.Get("http://relay/v1/generate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = c.Get("http://relay/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics route is only mounted when configured")
}

func TestServer_MetricsObserved(t *testing.T) {
	m := &fakeMetrics{}
	metricsHit := false
	s := New(&fakeGenerator{text: "x"}, Options{
		Metrics: m,
		MetricsHandler: func(ctx *fasthttp.RequestCtx) {
			metricsHit = true
			ctx.SetBodyString("# metrics")
		},
	})
	c := serve(t, s)

	post(t, c, "/v1/generate", helloBody)
	post(t, c, "/v1/generate", `nope`)

	resp, err := c.Get("http://relay/metrics")
	require.NoError(t, err)
	resp.Body.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []int{200, 400}, m.observed["/v1/generate"])
	assert.Equal(t, 0, m.inFlight)
	assert.True(t, metricsHit)
}

func TestServer_EndToEndWithClient(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"relayed"}]}}]}`)
		case strings.HasSuffix(r.URL.Path, ":countTokens"):
			_, _ = io.WriteString(w, `{"totalTokens":7}`)
		default:
			_, _ = io.WriteString(w, `[{"candidates":[{"content":{"parts":[{"text":"s1"}]}}]}]`)
		}
	}))
	defer upstream.Close()

	client := gemini.New("test-key", gemini.WithBaseURL(upstream.URL))
	c := serve(t, New(client, Options{}))

	_, out, _ := post(t, c, "/v1/generate", helloBody)
	assert.Equal(t, "relayed", out["text"])

	_, out, _ = post(t, c, "/v1/count-tokens", helloBody)
	assert.Equal(t, float64(7), out["totalTokens"])

	_, out, _ = post(t, c, "/v1/stream", helloBody)
	assert.Equal(t, []any{"s1"}, out["texts"])
}
