// Package observability provides structured logging and Prometheus metrics
// for the SMS gateway.
//
// Metrics live on a private registry served by Metrics.Handler.
package observability
