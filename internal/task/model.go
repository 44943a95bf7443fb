// Package task holds the shared domain model spec §3 defines —
// TaskDefinition, UnifiedTask, Execution, Job, and SecurityContext — so
// the registry bridge (C5), the coordinator (C4), and the MCP handler (C6)
// operate on one vocabulary instead of three ad hoc shapes translated at
// each boundary.
package task

import (
	"encoding/json"
	"time"
)

// TaskDefinition is the immutable description of a task discovered by C5:
// identity (uuid, name, version), script source, optional I/O schemas,
// dependencies, environment hints, and a source reference. Spec §3:
// "Immutable after load; new versions are new records."
type TaskDefinition struct {
	UUID         string
	Name         string
	Version      string
	Script       string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Dependencies []string
	EnvHints     map[string]string

	SourceOrigin string // "embedded" | "filesystem" | "git" | "http"
	SourcePath   string

	Timeout time.Duration
}

// SyncStatus is UnifiedTask's reconciliation state, per spec §4.5.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusOrphaned SyncStatus = "orphaned"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
)

// UnifiedTask is the persistent projection of a TaskDefinition with sync
// metadata, per spec §3. Invariant: exactly one record per
// (repository, name, version); InSync iff hash(source) == last synced hash.
type UnifiedTask struct {
	TaskDefinition

	Repository        string
	Enabled           bool
	RegistrySource    bool
	AvailableVersions []string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	ValidatedAt  time.Time
	LastSyncedAt time.Time

	InSync         bool
	SourceType     string
	RepositoryInfo string
	SyncStatus     SyncStatus
	NeedsPush      bool

	SourceHash     string
	LastSyncedHash string
}

// RecomputeInSync refreshes InSync from the current source hash, per the
// invariant `in_sync ⇔ hash(source) == last_synced_hash`.
func (u *UnifiedTask) RecomputeInSync() {
	u.InSync = u.SourceHash == u.LastSyncedHash
}

// ExecutionStatus is one of the five terminal/non-terminal states spec §3
// names for Execution. Transitions are monotonic along
// Pending -> Running -> {Completed|Failed|Cancelled}.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "Pending"
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionCompleted ExecutionStatus = "Completed"
	ExecutionFailed    ExecutionStatus = "Failed"
	ExecutionCancelled ExecutionStatus = "Cancelled"
)

// IsTerminal reports whether status is one execute_task always returns,
// per spec invariant 1 (§8).
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is one run of a task, per spec §3.
type Execution struct {
	ID          int64
	UUID        string
	TaskID      string
	Input       json.RawMessage
	Output      json.RawMessage
	Status      ExecutionStatus
	ErrorMessage string
	ErrorDetails json.RawMessage

	QueuedAt    time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
	Progress    float64

	CanRetry  bool
	CanCancel bool

	// RetriedFrom links a retry-submitted Execution back to its origin,
	// per SPEC_FULL.md §10's supplemented retry endpoint.
	RetriedFrom string
}

// MarkRunning transitions Pending -> Running, recording StartedAt.
func (e *Execution) MarkRunning(now time.Time) {
	e.Status = ExecutionRunning
	e.StartedAt = now
	e.CanCancel = true
}

// MarkTerminal transitions Running into a terminal status, recording
// CompletedAt and DurationMs per spec §3's invariants.
func (e *Execution) MarkTerminal(status ExecutionStatus, now time.Time) {
	e.Status = status
	e.CompletedAt = now
	if !e.StartedAt.IsZero() {
		e.DurationMs = now.Sub(e.StartedAt).Milliseconds()
	}
	e.CanCancel = false
	if status == ExecutionCompleted {
		e.Progress = 1
	}
}

// JobStatus mirrors ExecutionStatus for queued (not-yet-dispatched) work.
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobCancelled JobStatus = "Cancelled"
)

// Job is a queued execution request, per spec §3. Invariant: a Job
// terminates in exactly one of Completed, Failed (retries exhausted), or
// Cancelled.
type Job struct {
	ID                 string
	ExecutionID        string
	TaskRef             string
	Input               json.RawMessage
	Priority            int
	Status              JobStatus
	RetryCount          int
	MaxRetries          int
	ScheduledFor        time.Time
	OutputDestinations  []string
}

// CanRetryMore reports whether Job has retry budget remaining.
func (j *Job) CanRetryMore() bool { return j.RetryCount < j.MaxRetries }

// SecurityContext carries per-call identity, permissions, and deadline,
// per spec §3.
type SecurityContext struct {
	ClientID        string
	Permissions     []string
	SessionID       string
	AuthenticatedAt time.Time
	RequestID       string
	Deadline        time.Time

	// MaxBatchSize bounds the `batch` method's request count per spec
	// §4.6: "Batch size bounded by client permission" /
	// "batch validates batch_size against permissions.max_batch_size."
	// 0 means unset — the caller falls back to its own default.
	MaxBatchSize int
}

// IsTimedOut reports whether now is past Deadline; a zero Deadline never
// times out.
func (s SecurityContext) IsTimedOut(now time.Time) bool {
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// RemainingTime returns the time left until Deadline, or 0 if already
// past, or a very large duration if Deadline is unset.
func (s SecurityContext) RemainingTime(now time.Time) time.Duration {
	if s.Deadline.IsZero() {
		return time.Hour * 24 * 365
	}
	remaining := s.Deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasPermission reports whether perm is present in Permissions.
func (s SecurityContext) HasPermission(perm string) bool {
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
