// Package api hosts the ops HTTP server for the metadata worker:
//   - GET /healthz and /readyz for Kubernetes probes; readyz pings the
//     bookmark store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/enrich to enqueue a message on the in-process queue when the
//     worker runs with queue.provider=memory.
package api
