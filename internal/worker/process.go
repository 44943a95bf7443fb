// Process (this file) is the coordinator-side counterpart to dispatch.go's
// worker-side loop: it spawns the child `--worker` process, owns its
// stdin/stdout pipes wrapped in an ipc.Transport, and demultiplexes inbound
// WorkerMsgs by correlation ID into PendingCall slots. Grounded on the
// teacher's internal/infra/external/subprocess/subprocess.go (process
// lifecycle: Setpgid, SIGTERM-then-SIGKILL stop, stderr tail buffer) and
// internal/infra/mcp/registry.go's health-monitor/restart-channel shape,
// adapted from a client/server MCP relationship to the coordinator/worker
// relationship this package models.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ratchet/internal/ipc"
	"ratchet/internal/logging"
	"ratchet/internal/taxonomy"
)

// Status is the coordinator's view of one worker slot, per spec §3 Worker.
type Status string

const (
	StatusStarting  Status = "Starting"
	StatusReady     Status = "Ready"
	StatusBusy      Status = "Busy"
	StatusUnhealthy Status = "Unhealthy"
	StatusStopping  Status = "Stopping"
	StatusDead      Status = "Dead"
)

// CallKind distinguishes the two request shapes a PendingCall can carry.
type CallKind string

const (
	CallExecute  CallKind = "Execute"
	CallValidate CallKind = "Validate"
)

// Reply is what the demultiplexer delivers to a PendingCall on fulfillment.
type Reply struct {
	Success bool
	Output  json.RawMessage
	ErrKind taxonomy.Kind
	ErrMsg  string
}

// pendingCall is the coordinator-side record awaiting a worker reply, per
// spec §3 PendingCall: correlation_id, kind and a single-shot completion
// slot. Lifetime ends at fulfillment, or when call abandons it on deadline,
// cancellation or worker exit, whichever comes first.
type pendingCall struct {
	correlationID string
	kind          CallKind
	slot          chan Reply
	once          sync.Once
}

func newPendingCall(correlationID string, kind CallKind) *pendingCall {
	return &pendingCall{correlationID: correlationID, kind: kind, slot: make(chan Reply, 1)}
}

// fulfill delivers reply exactly once; a late or duplicate fulfillment
// (e.g. a reply arriving after the coordinator already abandoned the call)
// is silently dropped rather than blocking or panicking.
func (p *pendingCall) fulfill(reply Reply) {
	p.once.Do(func() {
		p.slot <- reply
	})
}

// ProcessConfig configures how the manager spawns one worker slot.
type ProcessConfig struct {
	WorkerID     string
	Command      string
	Args         []string
	Env          map[string]string
	MaxInflight  int
	StartTimeout time.Duration
}

// Process is the coordinator's handle to one spawned worker process: its
// OS process, its framed transport, and the demultiplexer that routes
// replies to PendingCall slots by correlation ID. Per spec §3's ownership
// note, the Worker Process Manager (C3) exclusively owns each Process;
// the Coordinator (C4) only calls Execute/Validate/Ping through it.
type Process struct {
	cfg    ProcessConfig
	logger *logging.ComponentLogger

	cmd       *exec.Cmd
	transport *ipc.Transport
	pgid      int

	mu            sync.Mutex
	status        Status
	pending       map[string]*pendingCall
	startedAt     time.Time
	lastHeartbeat time.Time
	restartCount  int
	readyCh       chan struct{}
	readyOnce     sync.Once

	done    chan struct{}
	waitErr error
}

// NewProcess constructs a Process from cfg. It does not start the child
// process; call Start.
func NewProcess(cfg ProcessConfig) *Process {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 1
	}
	return &Process{
		cfg:     cfg,
		logger:  logging.NewComponentLogger("worker." + cfg.WorkerID),
		status:  StatusStarting,
		pending: make(map[string]*pendingCall),
		readyCh: make(chan struct{}),
	}
}

// Start spawns the child process with argv `--worker --worker-id <ID>`
// appended to cfg.Args, wires its stdin/stdout through an ipc.Transport,
// and launches the demultiplexer. It returns once the process has been
// spawned; callers should use WaitReady to block until the worker reports
// Status{Ready}, the process exits, or the context passed to WaitReady is
// done.
func (p *Process) Start(ctx context.Context) error {
	args := append(append([]string{}, p.cfg.Args...), "--worker", "--worker-id", p.cfg.WorkerID)
	cmd := exec.Command(p.cfg.Command, args...)
	if len(p.cfg.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range p.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return taxonomy.Wrap(taxonomy.WorkerError, err, "open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return taxonomy.Wrap(taxonomy.WorkerError, err, "open worker stdout")
	}
	if err := cmd.Start(); err != nil {
		return taxonomy.Wrap(taxonomy.WorkerError, err, "start worker process")
	}

	p.mu.Lock()
	p.cmd = cmd
	p.transport = ipc.NewTransport(stdout, stdin)
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	if cmd.Process != nil {
		p.pgid, _ = syscall.Getpgid(cmd.Process.Pid)
	}
	p.mu.Unlock()

	go p.waitExit()
	go p.demux()

	return nil
}

func (p *Process) waitExit() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.status = StatusDead
	done := p.done
	p.mu.Unlock()
	close(done)
}

// demux reads frames from the worker's stdout and routes them by
// correlation ID. The pending-call map is shared: call inserts entries and
// abandon removes them, and demux removes an entry before delivering its
// reply, all under p.mu.
func (p *Process) demux() {
	for {
		env, err := p.transport.Recv()
		if err != nil {
			p.logger.Debug("demux: transport closed: %v", err)
			return
		}

		switch env.Payload.Type {
		case ipc.TypeStatus:
			if env.Payload.State == "Ready" {
				p.mu.Lock()
				if p.status != StatusStopping {
					p.status = StatusReady
				}
				p.lastHeartbeat = time.Now()
				p.mu.Unlock()
				p.readyOnce.Do(func() { close(p.readyCh) })
			}
		case ipc.TypePong:
			p.mu.Lock()
			p.lastHeartbeat = time.Now()
			if p.status == StatusUnhealthy {
				p.status = StatusReady
			}
			p.mu.Unlock()
			p.deliver(env.Payload.CorrelationID, Reply{Success: true})
		case ipc.TypeTaskResult, ipc.TypeValidationResult:
			reply := Reply{
				Success: env.Payload.Success,
				Output:  env.Payload.Output,
				ErrKind: taxonomy.Kind(env.Payload.ErrKind),
				ErrMsg:  env.Payload.ErrMsg,
			}
			p.deliver(env.Payload.CorrelationID, reply)
		case ipc.TypeLog:
			p.logger.Info("worker log: %s", env.Payload.Message)
		default:
			p.logger.Warn("demux: unexpected payload type %q", env.Payload.Type)
		}
	}
}

// deliver hands reply to the PendingCall keyed by correlationID, per spec
// invariant 2 (§8): "its correlation ID equals that of exactly one prior
// ExecuteTask frame ... duplicates are discarded." A correlation ID with
// no (or no longer any) pending call — because it was already fulfilled,
// or the coordinator abandoned it on timeout/cancel — is discarded here.
func (p *Process) deliver(correlationID string, reply Reply) {
	p.mu.Lock()
	call, ok := p.pending[correlationID]
	if ok {
		delete(p.pending, correlationID)
	}
	p.mu.Unlock()
	if ok {
		call.fulfill(reply)
	}
}

// WaitReady blocks until the worker reports Ready or ctx is done, returning
// taxonomy.WorkerError on timeout.
func (p *Process) WaitReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-p.done:
		return taxonomy.New(taxonomy.WorkerError, "worker exited before reporting ready")
	case <-ctx.Done():
		return taxonomy.New(taxonomy.WorkerError, "timed out waiting for worker ready")
	}
}

// call registers a pending call, sends env, and awaits fulfillment,
// abandonment on deadline, or cancellation via ctx — the three outcomes
// spec §4.4 steps 5-8 describe.
func (p *Process) call(ctx context.Context, kind CallKind, env ipc.Envelope, deadline time.Time) (Reply, error) {
	correlationID := env.Payload.CorrelationID
	pc := newPendingCall(correlationID, kind)

	p.mu.Lock()
	if len(p.pending) >= p.cfg.MaxInflight {
		p.mu.Unlock()
		return Reply{}, taxonomy.New(taxonomy.ServiceUnavailable, "worker at max in-flight capacity")
	}
	p.pending[correlationID] = pc
	p.status = StatusBusy
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if len(p.pending) == 0 && p.status == StatusBusy {
			p.status = StatusReady
		}
		p.mu.Unlock()
	}()

	if err := p.transport.Send(env); err != nil {
		p.abandon(correlationID)
		return Reply{}, taxonomy.Wrap(taxonomy.WorkerError, err, "send request to worker")
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		timerC = timer.C
		defer timer.Stop()
	}

	select {
	case reply := <-pc.slot:
		return reply, nil
	case <-timerC:
		p.abandon(correlationID)
		return Reply{}, taxonomy.New(taxonomy.ExecutionTimeout, "worker call deadline elapsed")
	case <-ctx.Done():
		p.abandon(correlationID)
		return Reply{}, taxonomy.New(taxonomy.ExecutionCancelled, "call cancelled by caller")
	case <-p.done:
		p.abandon(correlationID)
		return Reply{}, taxonomy.New(taxonomy.WorkerError, "worker process exited while call was pending")
	}
}

// abandon removes correlationID from the pending map without fulfilling
// it, so a later (or never-arriving) reply is discarded by deliver rather
// than leaking the map entry forever.
func (p *Process) abandon(correlationID string) {
	p.mu.Lock()
	delete(p.pending, correlationID)
	p.mu.Unlock()
}

// Execute sends an ExecuteTask frame for taskRef/input and awaits the
// result, honoring deadline and ctx cancellation per spec §4.4.
func (p *Process) Execute(ctx context.Context, taskRef string, input json.RawMessage, callCtx *ipc.CallContext, deadline time.Time) (json.RawMessage, error) {
	correlationID := uuid.NewString()
	env := ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypeExecuteTask,
		CorrelationID: correlationID,
		TaskSource:    taskRef,
		Input:         input,
		Context:       callCtx,
	})
	reply, err := p.call(ctx, CallExecute, env, deadline)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		kind := reply.ErrKind
		if kind == "" {
			kind = taxonomy.ExecutionFailed
		}
		return nil, taxonomy.New(kind, reply.ErrMsg)
	}
	return reply.Output, nil
}

// Validate sends a ValidateTask frame for taskRef and awaits diagnostics.
func (p *Process) Validate(ctx context.Context, taskRef string, deadline time.Time) error {
	correlationID := uuid.NewString()
	env := ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypeValidateTask,
		CorrelationID: correlationID,
		TaskSource:    taskRef,
	})
	reply, err := p.call(ctx, CallValidate, env, deadline)
	if err != nil {
		return err
	}
	if !reply.Success {
		kind := reply.ErrKind
		if kind == "" {
			kind = taxonomy.TaskValidationFailed
		}
		return taxonomy.New(kind, reply.ErrMsg)
	}
	return nil
}

// Ping sends a heartbeat Ping and waits up to timeout for a Pong, per
// spec §4.3's liveness check.
func (p *Process) Ping(ctx context.Context, timeout time.Duration) error {
	correlationID := uuid.NewString()
	env := ipc.NewEnvelope(ipc.Payload{Type: ipc.TypePing, CorrelationID: correlationID})
	_, err := p.call(ctx, CallExecute, env, time.Now().Add(timeout))
	return err
}

// Shutdown sends a graceful Shutdown frame and waits up to timeout for the
// process to exit, falling back to Stop (SIGTERM/SIGKILL) otherwise.
func (p *Process) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	p.status = StatusStopping
	done := p.done
	p.mu.Unlock()

	_ = p.transport.Send(ipc.NewEnvelope(ipc.Payload{Type: ipc.TypeShutdown}))

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return p.Stop()
	}
}

// Stop forcibly terminates the process group: SIGTERM, then SIGKILL after
// a grace period, mirroring the teacher's subprocess.Stop.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	pgid := p.pgid
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if pgid == 0 {
		pgid = cmd.Process.Pid
	}

	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return nil
	}
}

// Status returns the worker's current lifecycle state.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// MarkUnhealthy transitions Ready or Busy -> Unhealthy after a missed heartbeat.
func (p *Process) MarkUnhealthy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusReady || p.status == StatusBusy {
		p.status = StatusUnhealthy
	}
}

// PendingCount returns the number of in-flight calls, used by the manager
// for least-loaded worker selection (spec §4.3 Assignment).
func (p *Process) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// LastHeartbeat returns the last time this worker proved liveness (a
// Status{Ready} or Pong frame), used as the manager's tie-break key.
func (p *Process) LastHeartbeat() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeartbeat
}

// StartedAt returns when this process slot was last (re)started.
func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// RestartCount returns how many times this slot has been respawned.
func (p *Process) RestartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartCount
}

// IncrementRestartCount bumps the slot's restart counter; the manager
// calls this each time it respawns the slot.
func (p *Process) IncrementRestartCount() {
	p.mu.Lock()
	p.restartCount++
	p.mu.Unlock()
}

// ResetRestartCount zeroes the restart counter after a minimum uptime has
// elapsed with no further crash, per spec §4.3 Restart policy.
func (p *Process) ResetRestartCount() {
	p.mu.Lock()
	p.restartCount = 0
	p.mu.Unlock()
}

// ID returns the worker's configured identifier.
func (p *Process) ID() string { return p.cfg.WorkerID }

// Done returns a channel closed when the underlying OS process exits.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// ExitErr returns the error cmd.Wait() returned, valid only after Done()
// is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}
