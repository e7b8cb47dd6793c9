// Package storage provides path-addressed artifact storage with pluggable backends
// and a composite router that dispatches by path prefix.
//
// Invariants:
// - Every path is absolute ("/..."); directory prefixes are compared with a trailing
//   separator so "/scratch" never matches "/scratchpad".
// - Routes are evaluated in order and the first match wins; unmatched paths go to the
//   default backend.
// - Fan-out reads (List/Glob/Grep) never report the same entry twice.
//
// Usage:
//
//	persistent, _ := storage.NewSQLiteBackend("/data/artifacts.db")
//	router := storage.NewRouter(storage.NewMemoryBackend(),
//		storage.Route{Prefix: "/large_results/", Backend: persistent, Description: "evicted tool output"},
//	)
//	_, _ = router.Write(ctx, "/large_results/call_1", content, nil)
package storage
