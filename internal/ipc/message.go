// Package ipc implements the framed, length-delimited JSON transport that
// carries messages between the coordinator and a worker process: a 4-byte
// big-endian length prefix followed by exactly that many bytes of UTF-8
// JSON forming one MessageEnvelope. Grounded on the teacher's
// internal/infra/external/bridge/executor.go (stdin/stdout plumbing around
// a subprocess), generalized from that file's newline-delimited JSONL scan
// loop to the spec's explicit length-prefix framing.
package ipc

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaxMessageSize is the default maximum envelope body size (1 MiB).
const MaxMessageSize = 1 << 20

// Version is the only envelope version this implementation understands.
const Version = "1"

// PayloadType names the tagged-union variant carried by an envelope.
type PayloadType string

const (
	TypeExecuteTask       PayloadType = "ExecuteTask"
	TypeValidateTask      PayloadType = "ValidateTask"
	TypeShutdown          PayloadType = "Shutdown"
	TypePing              PayloadType = "Ping"
	TypeTaskResult        PayloadType = "TaskResult"
	TypeValidationResult  PayloadType = "ValidationResult"
	TypeStatus            PayloadType = "Status"
	TypePong              PayloadType = "Pong"
	TypeLog               PayloadType = "Log"
	TypeUnknownMessage    PayloadType = "UnknownMessage"
)

// Envelope is the wire-level message: { version, id, timestamp, payload }.
type Envelope struct {
	Version   string          `json:"version"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   Payload         `json:"payload"`
}

// Payload is the tagged union of CoordinatorMsg | WorkerMsg variants,
// discriminated by Type. Fields are a superset over all variants; unused
// fields are omitted on the wire via `omitempty`.
type Payload struct {
	Type PayloadType `json:"type"`

	// ExecuteTask / ValidateTask (coordinator -> worker)
	CorrelationID string          `json:"correlation_id,omitempty"`
	TaskSource    string          `json:"task_source,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
	Context       *CallContext    `json:"context,omitempty"`

	// TaskResult / ValidationResult (worker -> coordinator)
	Success bool            `json:"success,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	ErrKind string          `json:"error_kind,omitempty"`
	ErrMsg  string          `json:"error_message,omitempty"`

	// Status (worker -> coordinator)
	WorkerID string `json:"worker_id,omitempty"`
	State    string `json:"state,omitempty"`

	// Log (worker -> coordinator)
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// CallContext carries the remaining budget and security context for one
// call, mirrored from spec §3's SecurityContext/PendingCall deadline.
type CallContext struct {
	RequestID     string        `json:"request_id,omitempty"`
	RemainingTime time.Duration `json:"remaining_time_ns,omitempty"`
	ClientID      string        `json:"client_id,omitempty"`
}

// NewEnvelope assigns a fresh ID and timestamp to payload, per spec §4.1
// ("recv() ... modulo envelope id/timestamp assignment").
func NewEnvelope(payload Payload) Envelope {
	return Envelope{
		Version:   Version,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
