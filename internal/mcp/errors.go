package mcp

import "ratchet/internal/taxonomy"

// CodeForKind maps a taxonomy.Kind to its JSON-RPC error code per spec
// §4.6's closed table. Kinds outside the table fall through to
// InternalError, matching the spec's "everything else -> -32603".
func CodeForKind(kind taxonomy.Kind) int {
	switch kind {
	case taxonomy.ValidationErrorKind, taxonomy.TaskValidationFailed:
		return InvalidParams
	case taxonomy.TimeoutKind, taxonomy.ExecutionTimeout:
		return ServerTimeout
	case taxonomy.AuthorizationDenied:
		return PermissionDenied
	default:
		return InternalError
	}
}
