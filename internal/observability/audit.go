package observability

import (
	"time"

	"ratchet/internal/async"
	"ratchet/internal/logging"
)

// AuditEvent is one audit-logged action.
type AuditEvent struct {
	ClientID   string
	Action     string
	Success    bool
	DurationMs int64
	RequestID  string
	Detail     string
	At         time.Time
}

// AuditLogger records AuditEvents through a single background worker so
// the critical request path never blocks on audit I/O, per spec §4.8.
// Grounded on internal/async's panic-safe goroutine launcher: the worker
// loop runs under async.Go so a logging failure never takes the process
// down with it.
type AuditLogger struct {
	logger *logging.ComponentLogger
	events chan AuditEvent
	done   chan struct{}
}

// NewAuditLogger starts an AuditLogger with a bounded queue of the given
// capacity. When the queue is full, new events are dropped rather than
// blocking the caller (spec §4.8: "fire-and-forget... never blocks the
// critical path").
func NewAuditLogger(queueSize int) *AuditLogger {
	if queueSize <= 0 {
		queueSize = 1024
	}
	a := &AuditLogger{
		logger: logging.NewComponentLogger("audit"),
		events: make(chan AuditEvent, queueSize),
		done:   make(chan struct{}),
	}
	async.Go(a.logger, "audit-writer", a.run)
	return a
}

func (a *AuditLogger) run() {
	for {
		select {
		case ev := <-a.events:
			a.write(ev)
		case <-a.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-a.events:
					a.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLogger) write(ev AuditEvent) {
	if ev.Success {
		a.logger.Info("audit client=%s action=%s success=true duration_ms=%d request_id=%s %s",
			ev.ClientID, ev.Action, ev.DurationMs, ev.RequestID, ev.Detail)
	} else {
		a.logger.Warn("audit client=%s action=%s success=false duration_ms=%d request_id=%s %s",
			ev.ClientID, ev.Action, ev.DurationMs, ev.RequestID, ev.Detail)
	}
}

// LogToolExecution records a tools/call outcome.
func (a *AuditLogger) LogToolExecution(clientID, toolName string, success bool, durationMs int64, requestID string) {
	a.enqueue(AuditEvent{ClientID: clientID, Action: toolName, Success: success, DurationMs: durationMs, RequestID: requestID, At: time.Now()})
}

// LogAuthorization records a permission-gated decision (resource access,
// batch execution).
func (a *AuditLogger) LogAuthorization(clientID, resource, action string, allowed bool, detail string) {
	a.enqueue(AuditEvent{ClientID: clientID, Action: resource + ":" + action, Success: allowed, Detail: detail, At: time.Now()})
}

func (a *AuditLogger) enqueue(ev AuditEvent) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("audit queue full, dropping event for client=%s action=%s", ev.ClientID, ev.Action)
	}
}

// Close stops the background writer after draining the queue.
func (a *AuditLogger) Close() {
	close(a.done)
}
