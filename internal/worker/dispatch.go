package worker

import (
	"errors"
	"io"

	"ratchet/internal/ipc"
	"ratchet/internal/logging"
	"ratchet/internal/taxonomy"
)

// State is a Worker Process's own view of its lifecycle, per spec §4.2's
// state machine: Starting -> Ready -> Busy <-> Ready -> Stopping -> (exit).
type State string

const (
	StateStarting State = "Starting"
	StateReady    State = "Ready"
	StateBusy     State = "Busy"
	StateStopping State = "Stopping"
)

// TaskSourceResolver loads the TaskSource named by a task reference
// contained in an ExecuteTask/ValidateTask frame. In-process, this is
// normally backed by the same registry snapshot C5 maintains; the worker
// process only needs read access to script bodies, not the full bridge.
type TaskSourceResolver func(taskRef string) (TaskSource, error)

// Dispatcher runs the per-worker-process dispatch loop described in spec
// §4.2: it owns one Runtime, serves ExecuteTask/ValidateTask/Ping/Shutdown
// over a Transport, and reports Status/heartbeat frames.
type Dispatcher struct {
	workerID string
	runtime  *Runtime
	resolve  TaskSourceResolver
	logger   *logging.ComponentLogger

	state State
}

// NewDispatcher constructs a Dispatcher for workerID, backed by runtime and
// resolve for loading task sources by reference.
func NewDispatcher(workerID string, runtime *Runtime, resolve TaskSourceResolver) *Dispatcher {
	return &Dispatcher{
		workerID: workerID,
		runtime:  runtime,
		resolve:  resolve,
		logger:   logging.NewComponentLogger("worker." + workerID),
		state:    StateStarting,
	}
}

// Run drives the dispatch loop against transport until Shutdown is
// received or the transport returns an unrecoverable error. It first emits
// a Status{Ready} frame, per spec §4.2's startup contract.
func (d *Dispatcher) Run(transport *ipc.Transport) error {
	d.state = StateReady
	if err := transport.Send(ipc.NewEnvelope(ipc.Payload{
		Type:     ipc.TypeStatus,
		WorkerID: d.workerID,
		State:    string(StateReady),
	})); err != nil {
		return err
	}

	for {
		env, err := transport.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ipc.ErrUnexpectedEOF) {
				return nil
			}
			d.logger.Error("transport recv failed: %v", err)
			return err
		}

		switch env.Payload.Type {
		case ipc.TypeExecuteTask:
			d.handleExecute(transport, env)
		case ipc.TypeValidateTask:
			d.handleValidate(transport, env)
		case ipc.TypePing:
			d.handlePing(transport, env)
		case ipc.TypeShutdown:
			d.handleShutdown(transport)
			return nil
		default:
			d.replyUnknown(transport, env)
		}
	}
}

func (d *Dispatcher) handleExecute(transport *ipc.Transport, env ipc.Envelope) {
	d.state = StateBusy
	defer func() { d.state = StateReady }()

	task, err := d.resolve(env.Payload.TaskSource)
	if err != nil {
		d.replyFailure(transport, env.Payload.CorrelationID, ipc.TypeTaskResult, taxonomy.TaskNotFound, err.Error())
		return
	}

	output, err := d.runtime.Execute(task, env.Payload.Input)
	if err != nil {
		d.replyFailure(transport, env.Payload.CorrelationID, ipc.TypeTaskResult, taxonomy.KindOf(err), sanitizedMessage(err))
		return
	}

	_ = transport.Send(ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypeTaskResult,
		CorrelationID: env.Payload.CorrelationID,
		Success:       true,
		Output:        output,
	}))
}

func (d *Dispatcher) handleValidate(transport *ipc.Transport, env ipc.Envelope) {
	task, err := d.resolve(env.Payload.TaskSource)
	if err != nil {
		d.replyFailure(transport, env.Payload.CorrelationID, ipc.TypeValidationResult, taxonomy.TaskNotFound, err.Error())
		return
	}

	if err := d.runtime.Validate(task); err != nil {
		d.replyFailure(transport, env.Payload.CorrelationID, ipc.TypeValidationResult, taxonomy.KindOf(err), sanitizedMessage(err))
		return
	}

	_ = transport.Send(ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypeValidationResult,
		CorrelationID: env.Payload.CorrelationID,
		Success:       true,
	}))
}

func (d *Dispatcher) handlePing(transport *ipc.Transport, env ipc.Envelope) {
	_ = transport.Send(ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypePong,
		CorrelationID: env.Payload.CorrelationID,
		WorkerID:      d.workerID,
	}))
}

// handleShutdown drains in-flight work conceptually (a single-threaded
// dispatch loop has at most the call it's mid-handling; that call has
// already replied by the time Recv returns here) and exits cleanly, per
// spec §4.2: "drain in-flight, reply to each with Failure(WorkerShuttingDown),
// exit with code 0".
func (d *Dispatcher) handleShutdown(transport *ipc.Transport) {
	d.state = StateStopping
	d.logger.Info("worker %s shutting down", d.workerID)
}

func (d *Dispatcher) replyUnknown(transport *ipc.Transport, env ipc.Envelope) {
	if env.ID == "" {
		d.logger.Warn("discarding frame with unknown payload type %q and no id", env.Payload.Type)
		return
	}
	_ = transport.Send(ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypeUnknownMessage,
		CorrelationID: env.Payload.CorrelationID,
		ErrKind:       string(taxonomy.Internal),
		ErrMsg:        "unknown message type",
	}))
}

func (d *Dispatcher) replyFailure(transport *ipc.Transport, correlationID string, msgType ipc.PayloadType, kind taxonomy.Kind, message string) {
	_ = transport.Send(ipc.NewEnvelope(ipc.Payload{
		Type:          msgType,
		CorrelationID: correlationID,
		Success:       false,
		ErrKind:       string(kind),
		ErrMsg:        message,
	}))
}

// sanitizedMessage strips structural error wrapping so the message crossing
// the IPC boundary carries no Go-internal detail, per spec §4.7's
// sanitization requirement.
func sanitizedMessage(err error) string {
	var te *taxonomy.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return "execution failed"
}
