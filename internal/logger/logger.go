// Package logger writes one structured line per Gemini call without blocking
// the caller.
//
// Records go into a buffered channel and a background goroutine flushes them
// to slog in batches. When the buffer is full (> 10 000 records) new records
// are dropped and counted in DroppedRecords.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Logger implements gemini.Recorder.
type Logger struct {
	ch        chan gemini.CallRecord
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Int64

	baseCtx context.Context
	log     *slog.Logger
}

var _ gemini.Recorder = (*Logger)(nil)

func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan gemini.CallRecord, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Record queues rec. It never blocks.
func (l *Logger) Record(rec gemini.CallRecord) {
	select {
	case <-l.done:
		l.dropped.Add(1)
		return
	default:
	}
	select {
	case l.ch <- rec:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) DroppedRecords() int64 {
	return l.dropped.Load()
}

// Close flushes queued records and stops the writer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]gemini.CallRecord, 0, batchSize)

	flush := func() {
		for _, r := range batch {
			l.write(r)
		}
		batch = batch[:0]
	}
	add := func(r gemini.CallRecord) {
		batch = append(batch, r)
		if len(batch) >= batchSize {
			flush()
		}
	}

	for {
		select {
		case r := <-l.ch:
			add(r)

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case r := <-l.ch:
					add(r)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) write(r gemini.CallRecord) {
	level := slog.LevelInfo
	if r.Outcome != gemini.OutcomeOK {
		level = slog.LevelWarn
	}
	l.log.Log(l.baseCtx, level, "gemini_call",
		slog.String("id", r.ID.String()),
		slog.String("method", r.Method),
		slog.String("model", r.Model),
		slog.Int("status", r.Status),
		slog.String("outcome", string(r.Outcome)),
		slog.Int64("latency_ms", r.Latency.Milliseconds()),
		slog.Int("request_bytes", r.RequestBytes),
		slog.Int("response_bytes", r.ResponseBytes),
		slog.Bool("cached", r.Cached),
		slog.Time("created_at", normalizeTime(r.CreatedAt)),
	)
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
