package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// fakeWords is a pool of words used to build mock responses.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "response", "from", "the",
	"mock", "model", "simulating", "a", "real", "Gemini", "API", "call",
	"for", "development", "and", "testing", "purposes",
}

const apiPrefix = "/v1beta/models/"

// newHandler returns an http.Handler simulating the Gemini API:
//
//	POST /v1beta/models/{model}:generateContent?key=...
//	POST /v1beta/models/{model}:countTokens?key=...
//	POST /v1beta/models/{model}:streamGenerateContent?key=...
//
// streamGenerateContent answers with a single JSON array of
// GenerateContentResponse objects, not SSE.
func newHandler(cfg Config, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(apiPrefix, func(w http.ResponseWriter, r *http.Request) {
		model, method, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, apiPrefix), ":")
		if !ok || model == "" {
			writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "NOT_FOUND")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "INVALID_ARGUMENT")
			return
		}
		if !validKey(cfg, r.URL.Query().Get("key")) {
			writeError(w, http.StatusBadRequest, "API key not valid. Please pass a valid API key.", "INVALID_ARGUMENT")
			return
		}

		contents, err := decodeContents(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), "INVALID_ARGUMENT")
			return
		}

		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "INTERNAL")
			return
		}

		log.Debug("mock request",
			slog.String("model", model),
			slog.String("method", method),
			slog.Int("turns", contents.Len()),
		)

		switch method {
		case gemini.MethodGenerateContent:
			writeJSON(w, http.StatusOK, generateResponse(cfg, model, contents))
		case gemini.MethodCountTokens:
			// totalTokens is written even when zero.
			writeJSON(w, http.StatusOK, map[string]int{"totalTokens": countWords(contents)})
		case gemini.MethodStreamGenerateContent:
			chunks := make([]*genai.GenerateContentResponse, cfg.StreamChunks)
			for i := range chunks {
				chunks[i] = generateResponse(cfg, model, contents)
			}
			writeJSON(w, http.StatusOK, chunks)
		default:
			writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown method %s", method), "NOT_FOUND")
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "NOT_FOUND")
	})

	return mux
}

func validKey(cfg Config, key string) bool {
	if cfg.APIKey != "" {
		return key == cfg.APIKey
	}
	return key != ""
}

func decodeContents(body io.Reader) (gemini.Contents, error) {
	var c gemini.Contents
	if err := json.NewDecoder(body).Decode(&c); err != nil {
		return gemini.Contents{}, err
	}
	return c, nil
}

func generateResponse(cfg Config, model string, contents gemini.Contents) *genai.GenerateContentResponse {
	in := int32(countWords(contents))
	out := int32(cfg.Words)
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(fakeSentence(cfg.Words), genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     in,
			CandidatesTokenCount: out,
			TotalTokenCount:      in + out,
		},
		ModelVersion: model,
		ResponseID:   fmt.Sprintf("mock-%x", rand.Int64()),
	}
}

// countWords is the mock's token count: whitespace-separated words across
// every text part.
func countWords(c gemini.Contents) int {
	n := 0
	for _, turn := range c.Turns() {
		for _, p := range turn.Parts() {
			n += len(strings.Fields(p.Text()))
		}
	}
	return n
}

// fakeSentence returns a fake response text of n words.
func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

// applyLatency sleeps for the configured latency.
func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

// shouldError returns true if this request should simulate an error.
func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the Google API error envelope.
func writeError(w http.ResponseWriter, status int, msg, apiStatus string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  apiStatus,
		},
	})
}
