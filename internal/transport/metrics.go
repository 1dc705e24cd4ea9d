package transport

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

func countRequest(transport, verb string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`databind_transport_requests_total{transport=%q,verb=%q}`, transport, verb)).Inc()
}

func countFailure(transport, verb string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`databind_transport_failures_total{transport=%q,verb=%q}`, transport, verb)).Inc()
}

func countCache(hit bool) {
	name := "databind_transport_cache_misses_total"
	if hit {
		name = "databind_transport_cache_hits_total"
	}
	metrics.GetOrCreateCounter(name).Inc()
}
