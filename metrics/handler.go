package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the standard net/http handler serving the default
// Prometheus registry, for mounting on an engine's metrics listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
