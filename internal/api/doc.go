// Package api hosts the HTTP server, middleware, and REST handlers for
// operating the pipeline. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/images to submit an image for extraction.
//   - GET /v1/stages/{stage}/items and the mark / confirm endpoints for
//     reviewing stage results.
//   - GET /v1/activity and /v1/activity/recent for the progress log.
package api
