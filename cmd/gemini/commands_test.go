package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// fakeAPI answers all three methods and keeps the last request body.
type fakeAPI struct {
	mu       sync.Mutex
	lastPath string
	lastBody []byte
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.lastPath = r.URL.Path
	f.lastBody = body
	status := f.status
	f.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, ":generateContent"):
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"answer"}]}}]}`)
	case strings.HasSuffix(r.URL.Path, ":countTokens"):
		_, _ = io.WriteString(w, `{"totalTokens":12}`)
	case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
		_, _ = io.WriteString(w, `[{"candidates":[{"content":{"parts":[{"text":"one"}]}}]},{"candidates":[{"content":{"parts":[{"text":"two"}]}}]}]`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAPI) last() (string, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPath, f.lastBody
}

func setup(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	for _, k := range []string{"CACHE_MODE", "REDIS_URL", "GEMINI_MODEL", "LOG_LEVEL", "PORT", "CORS_ORIGINS", "CACHE_TTL", "REQUEST_TIMEOUT"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("GOOGLE_API_KEY", "cli-key")
	t.Setenv("GEMINI_BASE_URL", srv.URL)

	dir := t.TempDir()
	t.Chdir(dir)
	return api, dir
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestGenerate_FromArgs(t *testing.T) {
	api, _ := setup(t)

	out, _, err := run(t, "", "generate", "say", "hi")
	require.NoError(t, err)
	assert.Equal(t, "answer\n", out)

	path, body := api.last()
	assert.Equal(t, "/models/gemini-1.5-flash:generateContent", path)
	assert.JSONEq(t, `{"contents":[{"parts":[{"text":"say hi"}],"role":"user"}]}`, string(body))
}

func TestGenerate_FromStdinWithModelFlag(t *testing.T) {
	api, _ := setup(t)

	out, _, err := run(t, "  from stdin\n", "generate", "--model", "gemini-pro")
	require.NoError(t, err)
	assert.Equal(t, "answer\n", out)

	path, body := api.last()
	assert.Equal(t, "/models/gemini-pro:generateContent", path)
	assert.Equal(t, "from stdin", gjson.GetBytes(body, "contents.0.parts.0.text").String())
}

func TestGenerate_WithHistory(t *testing.T) {
	api, dir := setup(t)

	hist := gemini.NewContentsBuilder().
		AddText("hello", gemini.RoleUser).
		AddText("hi, how can I help?", gemini.RoleModel).
		Build()
	raw, err := json.Marshal(hist)
	require.NoError(t, err)
	histPath := filepath.Join(dir, "history.json")
	require.NoError(t, os.WriteFile(histPath, raw, 0o600))

	_, _, err = run(t, "", "generate", "--history", histPath, "tell me a joke")
	require.NoError(t, err)

	_, body := api.last()
	turns := gjson.GetBytes(body, "contents").Array()
	require.Len(t, turns, 3)
	assert.Equal(t, "model", turns[1].Get("role").String())
	assert.Equal(t, "tell me a joke", turns[2].Get("parts.0.text").String())
	assert.Equal(t, "user", turns[2].Get("role").String())
}

func TestGenerate_BadHistory(t *testing.T) {
	_, dir := setup(t)
	histPath := filepath.Join(dir, "history.json")
	require.NoError(t, os.WriteFile(histPath, []byte(`{"contents":"nope"}`), 0o600))

	_, _, err := run(t, "", "generate", "--history", histPath, "x")
	require.ErrorContains(t, err, "history")
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	setup(t)

	_, _, err := run(t, "   \n", "generate")
	require.ErrorContains(t, err, "empty prompt")
}

func TestCountTokens(t *testing.T) {
	setup(t)

	out, _, err := run(t, "", "count-tokens", "how", "many")
	require.NoError(t, err)
	assert.Equal(t, "12\n", out)
}

func TestCountTokens_UnavailableExitsWithError(t *testing.T) {
	api, _ := setup(t)
	api.mu.Lock()
	api.status = http.StatusInternalServerError
	api.mu.Unlock()

	out, stderr, err := run(t, "", "count-tokens", "x")
	require.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, "-1\n", out)
	assert.Contains(t, stderr, "gemini")
	assert.NotContains(t, stderr, "cli-key")
}

func TestStream_OneLinePerChunk(t *testing.T) {
	setup(t)

	out, _, err := run(t, "", "stream", "count", "to", "two")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out)
}

func TestMissingAPIKey(t *testing.T) {
	setup(t)
	require.NoError(t, os.Unsetenv("GOOGLE_API_KEY"))

	_, _, err := run(t, "", "generate", "x")
	require.ErrorContains(t, err, "GOOGLE_API_KEY")
}

func TestServe_RejectsArgs(t *testing.T) {
	setup(t)

	_, _, err := run(t, "", "serve", "extra")
	require.Error(t, err)
}

func TestBuildLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := buildLogger("warn", &buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
