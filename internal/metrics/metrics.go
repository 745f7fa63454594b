// Package metrics exposes marketplace counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_jobs_posted_total",
		Help: "Jobs posted with escrow successfully held.",
	})
	JobsHired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_jobs_hired_total",
		Help: "Jobs that transitioned from open to hired.",
	})
	JobsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_jobs_settled_total",
		Help: "Approved jobs with escrow released to the agent.",
	})
	JobsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_jobs_refunded_total",
		Help: "Jobs whose escrow was returned to the poster (reject or cancel).",
	})
	JobsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_jobs_expired_total",
		Help: "Open jobs closed by the sweep after their deadline.",
	})
	JobsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_jobs_abandoned_total",
		Help: "Hired jobs reaped after their agent went silent past the grace period.",
	})
	HeartbeatsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_agent_heartbeats_total",
		Help: "Agent heartbeats received.",
	})
	AgentsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_agents_registered_total",
		Help: "Agent profiles registered.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
