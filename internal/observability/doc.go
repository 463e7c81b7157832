// Package observability builds the process logger and the Prometheus
// collectors used by the catalog engine and the HTTP layer.
package observability
