// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the snapvault pipeline. Loggers travel through
// context so every component logs with batch, item, and destination fields
// attached.
package telemetry
