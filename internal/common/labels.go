package common

import (
	"context"
	"runtime/pprof"
)

// DoWithLabels runs f with the given pprof labels attached to the
// calling goroutine, the way background workers in this codebase tag
// themselves for profiling (recovery scanners, reclamation pollers).
func DoWithLabels(labels map[string]string, f func()) {
	kv := make([]string, 0, len(labels)*2)
	for k, v := range labels {
		kv = append(kv, k, v)
	}
	pprof.Do(context.Background(), pprof.Labels(kv...), func(context.Context) {
		f()
	})
}
