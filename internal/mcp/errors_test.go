package mcp

import (
	"testing"

	"ratchet/internal/taxonomy"
)

func TestCodeForKindMapsClosedTable(t *testing.T) {
	cases := map[taxonomy.Kind]int{
		taxonomy.ValidationErrorKind:  InvalidParams,
		taxonomy.TaskValidationFailed: InvalidParams,
		taxonomy.TimeoutKind:          ServerTimeout,
		taxonomy.ExecutionTimeout:     ServerTimeout,
		taxonomy.AuthorizationDenied:  PermissionDenied,
		taxonomy.Internal:             InternalError,
		taxonomy.TaskNotFound:         InternalError, // not in the closed table: falls through
	}
	for kind, want := range cases {
		if got := CodeForKind(kind); got != want {
			t.Fatalf("CodeForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestPermissionDeniedAndServerTimeoutAreDistinct(t *testing.T) {
	if PermissionDenied == ServerTimeout {
		t.Fatal("PermissionDenied must not share ServerTimeout's reserved code -32001")
	}
}
