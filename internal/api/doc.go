// Package api hosts the operational HTTP server. Routes:
//   - GET /healthz for liveness checks; it never touches a backend.
//   - GET /readyz for the full storage health report, 503 when unhealthy.
//   - GET /metrics for Prometheus scraping.
package api
