package metrics

import "time"

// CompilerResolve records a compiler resolution. outcome is one of
// cache_hit, downloaded or failed.
func CompilerResolve(language, outcome string) {
	if !enabled {
		return
	}
	compilerResolveTotal.WithLabelValues(language, outcome).Inc()
}

// CompilerInvocation records one compile call on the native or script
// target.
func CompilerInvocation(language, target, status string, d time.Duration) {
	if !enabled {
		return
	}
	compilerInvocationTotal.WithLabelValues(language, target, status).Inc()
	compilerInvocationLength.WithLabelValues(language, target).Observe(d.Seconds())
}
