package gemini

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a call ended.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeEncodeError    Outcome = "encode_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeHTTPStatus     Outcome = "http_status"
	OutcomeInvalidJSON    Outcome = "invalid_json"
	OutcomeShapeMismatch  Outcome = "shape_mismatch"
)

// CallRecord describes one finished API call. It is the diagnostics channel
// for the information the sentinel return values hide.
type CallRecord struct {
	ID            uuid.UUID
	Method        string
	Model         string
	Status        int // 0 when no HTTP response was received
	Outcome       Outcome
	Latency       time.Duration
	RequestBytes  int
	ResponseBytes int
	Cached        bool
	CreatedAt     time.Time
}

// Recorder receives a CallRecord after every call. Implementations are called
// on the caller's goroutine and should not block.
type Recorder interface {
	Record(CallRecord)
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(CallRecord)

func (f RecorderFunc) Record(r CallRecord) { f(r) }
