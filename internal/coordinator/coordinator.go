// Package coordinator implements the Task Executor (C4): the public
// execute_task/validate_task surface that resolves a task reference,
// validates its input against a schema, acquires a worker from C3,
// dispatches the call with a computed deadline, and returns a structured
// outcome or a taxonomy-classified failure. Grounded on the
// tombee-conductor runner.go extracts (Run/RunSnapshot/Submit pattern,
// immutable snapshots, sync.Once-guarded cancellation) adapted from a
// workflow runner to a single-call task executor, and on the teacher's
// bridge/executor.go correlation idiom.
package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"ratchet/internal/ipc"
	"ratchet/internal/logging"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// WorkerHandle is the subset of *worker.Process the coordinator depends
// on. Expressed as an interface (rather than importing internal/worker
// directly) so tests can substitute a fake worker without spawning a real
// subprocess; *worker.Process satisfies this interface structurally.
type WorkerHandle interface {
	Execute(ctx context.Context, taskRef string, input json.RawMessage, callCtx *ipc.CallContext, deadline time.Time) (json.RawMessage, error)
	Validate(ctx context.Context, taskRef string, deadline time.Time) error
	ID() string
}

// Pool is the subset of *workerpool.Manager the coordinator depends on.
type Pool interface {
	Acquire(ctx context.Context) (WorkerHandle, error)
}

// TaskResolver resolves a task reference (name, or name@version) to its
// TaskDefinition, normally backed by the registry bridge's store snapshot.
type TaskResolver interface {
	Resolve(ctx context.Context, taskRef string) (task.TaskDefinition, error)
}

// Recorder persists the optional HAR-recording side effect described in
// spec §4.4 and SPEC_FULL.md §10. A nil Recorder (the default) disables
// recording entirely.
type Recorder interface {
	// Record is called after a successful call with the raw input/output
	// JSON; failed calls are not recorded. It never influences the outcome.
	Record(ctx context.Context, taskRef string, input, output json.RawMessage) (refs []string)
}

// Config bounds the coordinator's deadline computation, per spec §5.
type Config struct {
	DefaultTaskTimeout time.Duration
	GlobalMaxTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = 300 * time.Second
	}
	if c.GlobalMaxTimeout <= 0 {
		c.GlobalMaxTimeout = 15 * time.Minute
	}
}

// Coordinator is the Task Executor (C4).
type Coordinator struct {
	cfg      Config
	resolver TaskResolver
	pool     Pool
	recorder Recorder
	logger   *logging.ComponentLogger
}

// New constructs a Coordinator. recorder may be nil to disable recording.
func New(cfg Config, resolver TaskResolver, pool Pool, recorder Recorder) *Coordinator {
	cfg.setDefaults()
	return &Coordinator{
		cfg:      cfg,
		resolver: resolver,
		pool:     pool,
		recorder: recorder,
		logger:   logging.NewComponentLogger("coordinator"),
	}
}

// ExecutionOutcome is what execute_task returns on success, per spec §4.4.
type ExecutionOutcome struct {
	Output        json.RawMessage
	DurationMs    int64
	RecordingRefs []string
}

// ExecuteTask resolves taskRef, validates input, and dispatches the call
// to a worker, implementing spec §4.4's numbered protocol end to end.
// Failures are returned as *taxonomy.Error so callers (REST/GraphQL/MCP
// façades) get a uniform, retryability-annotated result regardless of
// which step failed.
func (c *Coordinator) ExecuteTask(ctx context.Context, taskRef string, input json.RawMessage, secCtx task.SecurityContext) (*ExecutionOutcome, error) {
	start := time.Now()

	// Step 1: resolve task_ref.
	def, err := c.resolver.Resolve(ctx, taskRef)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.TaskNotFound, err, "task not found: "+taskRef)
	}

	// Step 2: validate input against input_schema, if present.
	if len(def.InputSchema) > 0 {
		if err := validateJSON(def.InputSchema, input); err != nil {
			return nil, taxonomy.Wrap(taxonomy.ValidationErrorKind, err, "input failed schema validation")
		}
	}

	// A cancellation delivered before any frame is sent yields Cancelled
	// without acquiring a worker (spec §8 boundary behavior).
	select {
	case <-ctx.Done():
		return nil, taxonomy.New(taxonomy.ExecutionCancelled, "call cancelled before dispatch")
	default:
	}

	// Step 3: acquire a worker.
	w, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	// Step 4: compute the call deadline = min(task.timeout, remaining
	// context budget, global max).
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTaskTimeout
	}
	if remaining := secCtx.RemainingTime(start); remaining < timeout {
		timeout = remaining
	}
	if timeout > c.cfg.GlobalMaxTimeout {
		timeout = c.cfg.GlobalMaxTimeout
	}
	if timeout <= 0 {
		return nil, taxonomy.New(taxonomy.ValidationErrorKind, "call deadline is zero or already elapsed")
	}
	deadline := start.Add(timeout)

	callCtx := &ipc.CallContext{
		RequestID:     secCtx.RequestID,
		RemainingTime: timeout,
		ClientID:      secCtx.ClientID,
	}

	// Steps 5-8: send, await, translate worker-process-level failures.
	output, err := w.Execute(ctx, taskRef, input, callCtx, deadline)
	if err != nil {
		return nil, err
	}

	// Step 6 (continued): validate output against output_schema.
	if len(def.OutputSchema) > 0 {
		if err := validateJSON(def.OutputSchema, output); err != nil {
			return nil, taxonomy.Wrap(taxonomy.ValidationErrorKind, err, "output failed schema validation")
		}
	}

	durationMs := time.Since(start).Milliseconds()

	var refs []string
	if c.recorder != nil {
		refs = c.recorder.Record(ctx, taskRef, input, output)
	}

	return &ExecutionOutcome{Output: output, DurationMs: durationMs, RecordingRefs: refs}, nil
}

// ValidationOutcome is what validate_task returns.
type ValidationOutcome struct {
	Valid       bool
	Diagnostics string
}

// ValidateTask resolves taskRef and compiles it without executing it.
func (c *Coordinator) ValidateTask(ctx context.Context, taskRef string) (*ValidationOutcome, error) {
	def, err := c.resolver.Resolve(ctx, taskRef)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.TaskNotFound, err, "task not found: "+taskRef)
	}

	w, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTaskTimeout
	}
	if err := w.Validate(ctx, taskRef, time.Now().Add(timeout)); err != nil {
		return &ValidationOutcome{Valid: false, Diagnostics: err.Error()}, nil
	}
	return &ValidationOutcome{Valid: true}, nil
}
