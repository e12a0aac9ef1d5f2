// Package server exposes the three Gemini operations over a small local HTTP
// relay so tools that cannot link Go code can still use the client.
//
// Every route takes a {"contents":[...]} body and answers with the library's
// result, including its sentinels: an unavailable reply is {"text":""},
// {"totalTokens":-1} or {"texts":[]} with status 200. Only malformed request
// bodies produce error envelopes.
package server

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/gemini-client/pkg/apierr"
	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// Generator is the subset of *gemini.Client the relay needs.
type Generator interface {
	Generate(ctx context.Context, contents gemini.Contents) string
	CountTokens(ctx context.Context, contents gemini.Contents) int
	StreamGenerateContent(ctx context.Context, contents gemini.Contents) iter.Seq[string]
	Model() string
}

// Metrics receives relay request observations. *metrics.Registry satisfies it.
type Metrics interface {
	IncInFlight()
	DecInFlight()
	ObserveHTTP(route string, statusCode int, dur time.Duration)
}

// Options configures a Server. All fields are optional.
type Options struct {
	Logger *slog.Logger

	Metrics Metrics

	// MetricsHandler is mounted at GET /metrics when non-nil.
	MetricsHandler fasthttp.RequestHandler

	CORSOrigins []string

	// MaxBodySize bounds request bodies. Default: 4 MiB.
	MaxBodySize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	gen     Generator
	log     *slog.Logger
	metrics Metrics
	srv     *fasthttp.Server
}

const (
	routeGenerate    = "/v1/generate"
	routeCountTokens = "/v1/count-tokens"
	routeStream      = "/v1/stream"
	routeHealth      = "/health"
	routeMetrics     = "/metrics"

	defaultMaxBodySize = 4 << 20
)

func New(gen Generator, opts Options) *Server {
	s := &Server{
		gen:     gen,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	r := router.New()
	r.POST(routeGenerate, s.instrument(routeGenerate, s.handleGenerate))
	r.POST(routeCountTokens, s.instrument(routeCountTokens, s.handleCountTokens))
	r.POST(routeStream, s.instrument(routeStream, s.handleStream))
	r.GET(routeHealth, s.handleHealth)
	if opts.MetricsHandler != nil {
		r.GET(routeMetrics, opts.MetricsHandler)
	}
	r.NotFound = apierr.WriteNotFound
	r.MethodNotAllowed = apierr.WriteMethodNotAllowed

	handler := applyMiddleware(r.Handler,
		recovery(s.log),
		requestID,
		timing,
		corsHandler(opts.CORSOrigins),
		securityHeaders,
	)

	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 120 * time.Second
	}

	s.srv = &fasthttp.Server{
		Name:               "gemini-relay",
		Handler:            handler,
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		MaxRequestBodySize: maxBody,
	}
	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() fasthttp.RequestHandler { return s.srv.Handler }

// ListenAndServe blocks serving addr (e.g. ":8080").
func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

// Serve blocks serving ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

type (
	generateResponse struct {
		Text string `json:"text"`
	}
	countTokensResponse struct {
		TotalTokens int `json:"totalTokens"`
	}
	streamResponse struct {
		Texts []string `json:"texts"`
	}
	healthResponse struct {
		Status string `json:"status"`
		Model  string `json:"model"`
	}
)

func (s *Server) handleGenerate(ctx *fasthttp.RequestCtx) {
	contents, ok := s.decode(ctx)
	if !ok {
		return
	}
	writeJSON(ctx, generateResponse{Text: s.gen.Generate(ctx, contents)})
}

func (s *Server) handleCountTokens(ctx *fasthttp.RequestCtx) {
	contents, ok := s.decode(ctx)
	if !ok {
		return
	}
	writeJSON(ctx, countTokensResponse{TotalTokens: s.gen.CountTokens(ctx, contents)})
}

func (s *Server) handleStream(ctx *fasthttp.RequestCtx) {
	contents, ok := s.decode(ctx)
	if !ok {
		return
	}
	texts := []string{}
	for text := range s.gen.StreamGenerateContent(ctx, contents) {
		texts = append(texts, text)
	}
	writeJSON(ctx, streamResponse{Texts: texts})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, healthResponse{Status: "ok", Model: s.gen.Model()})
}

// decode parses the {"contents":[...]} request body. On failure it writes a
// 400 and returns false.
func (s *Server) decode(ctx *fasthttp.RequestCtx) (gemini.Contents, bool) {
	body := ctx.PostBody()
	reqID, _ := ctx.UserValue("request_id").(string)

	if !gjson.ValidBytes(body) {
		s.log.DebugContext(ctx, "relay: invalid request body", slog.String("request_id", reqID))
		apierr.WriteInvalidJSON(ctx, "request body must be valid JSON")
		return gemini.Contents{}, false
	}
	if !gjson.GetBytes(body, "contents").IsArray() {
		apierr.WriteInvalidJSON(ctx, `request body must be an object with a "contents" array`)
		return gemini.Contents{}, false
	}

	var contents gemini.Contents
	if err := json.Unmarshal(body, &contents); err != nil {
		s.log.DebugContext(ctx, "relay: malformed contents",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteInvalidJSON(ctx, "invalid contents: "+err.Error())
		return gemini.Contents{}, false
	}
	return contents, true
}

// instrument reports each request on route to the metrics sink.
func (s *Server) instrument(route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if s.metrics == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		s.metrics.IncInFlight()
		defer func() {
			s.metrics.DecInFlight()
			s.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
		}()
		next(ctx)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to serialize response")
		return
	}
	ctx.SetBody(data)
}
