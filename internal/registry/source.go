// Package registry implements the Task Registry Bridge (C5): multi-source
// discovery (embedded, filesystem, Git, HTTP), a unified task catalog, and
// reconciliation into a persistent store under a conflict policy.
// Grounded on the teacher's internal/infra/mcp ConfigLoader layering idiom
// (generalized from MCP-server config scopes to task sources) and on
// ratchet-server's repository_service.rs for the reconciliation shape.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"ratchet/internal/task"
)

// Metadata is what discover_tasks returns per spec §4.5: identity and
// provenance without loading the script body.
type Metadata struct {
	Name         string
	Version      string
	SourceOrigin string
	SourcePath   string
}

// Source is one of the four pluggable discovery backends spec §4.5 names.
// Origin must be stable and match the precedence table in Precedence.
type Source interface {
	Origin() string
	Discover(ctx context.Context) ([]Metadata, error)
	Load(ctx context.Context, name string) (task.TaskDefinition, error)
	HealthCheck(ctx context.Context) error
}

// Precedence is the explicit source precedence spec §4.5 requires for
// load_task_content: "first source to claim the name wins."
var Precedence = []string{"embedded", "filesystem", "git", "http"}

func precedenceRank(origin string) int {
	for i, o := range Precedence {
		if o == origin {
			return i
		}
	}
	return len(Precedence)
}

// hashSource returns a stable content hash of a task's script plus schemas,
// used by reconciliation's `hash(source) != hash(D.source)` comparison and
// by task.UnifiedTask.RecomputeInSync.
func hashSource(def task.TaskDefinition) string {
	h := sha256.New()
	h.Write([]byte(def.Script))
	h.Write(def.InputSchema)
	h.Write(def.OutputSchema)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}
