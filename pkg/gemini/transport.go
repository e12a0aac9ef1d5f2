package gemini

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// maxDrain bounds how much of a non-200 body is read before closing, so the
// connection can be reused.
const maxDrain = 64 << 10

// call POSTs contents to method and returns the raw body of a 200 response
// that is valid JSON. Every other result returns nil; the failure is logged
// and classified in the returned record.
func (c *Client) call(ctx context.Context, method string, contents Contents) ([]byte, *CallRecord) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	rec := &CallRecord{
		ID:        uuid.New(),
		Method:    method,
		Model:     c.model,
		Outcome:   OutcomeOK,
		CreatedAt: start.UTC(),
	}
	defer func() { rec.Latency = time.Since(start) }()

	body, err := json.Marshal(contents)
	if err != nil {
		rec.Outcome = OutcomeEncodeError
		c.logFailure(ctx, rec, "gemini: encode request", err)
		return nil, rec
	}
	rec.RequestBytes = len(body)

	var key string
	if c.cache != nil {
		key = cacheKey(c.model, method, body)
		if data, ok := c.cache.Get(ctx, key); ok {
			rec.Status = http.StatusOK
			rec.ResponseBytes = len(data)
			rec.Cached = true
			return data, rec
		}
	}

	data, err := c.post(ctx, method, body, rec)
	if err != nil {
		c.logFailure(ctx, rec, "gemini: request failed", err)
		return nil, rec
	}

	if c.cache != nil {
		// A failed Set only costs a miss on the next identical call.
		_ = c.cache.Set(ctx, key, data, c.cacheTTL)
	}
	return data, rec
}

// post performs the HTTP round trip. It fills rec's status, size and outcome
// and returns an error for every result other than a 200 with a JSON body.
func (c *Client) post(ctx context.Context, method string, body []byte, rec *CallRecord) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(method), bytes.NewReader(body))
	if err != nil {
		rec.Outcome = OutcomeEncodeError
		return nil, fmt.Errorf("build request: %w", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		rec.Outcome = OutcomeTransportError
		return nil, redact(err)
	}
	defer resp.Body.Close()

	rec.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		rec.Outcome = OutcomeHTTPStatus
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	rec.ResponseBytes = len(data)
	if err != nil {
		rec.Outcome = OutcomeTransportError
		return nil, fmt.Errorf("read body: %w", redact(err))
	}
	if !gjson.ValidBytes(data) {
		rec.Outcome = OutcomeInvalidJSON
		return nil, errors.New("response body is not valid JSON")
	}
	return data, nil
}

// url returns the request URL including the key query parameter.
func (c *Client) url(method string) string {
	q := url.Values{"key": {c.apiKey}}
	return c.Endpoint(method) + "?" + q.Encode()
}

func (c *Client) logFailure(ctx context.Context, rec *CallRecord, msg string, err error) {
	level := slog.LevelError
	if rec.Outcome == OutcomeHTTPStatus {
		level = slog.LevelWarn
	}
	c.log.Log(ctx, level, msg,
		slog.String("call_id", rec.ID.String()),
		slog.String("method", rec.Method),
		slog.String("model", rec.Model),
		slog.Int("status", rec.Status),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("error", err.Error()),
	)
}

// redact strips the request URL (which carries the API key) from transport
// errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

// cacheKey hashes model, method and request body. The API key is not part
// of the key.
func cacheKey(model, method string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(body)
	return "gemini:" + hex.EncodeToString(h.Sum(nil))
}
