// Package telemetry wires OpenTelemetry and Prometheus exporters for the
// document store metering service.
//
// It bootstraps the process-wide trace provider and offers notification
// subscribers that turn each storage request metrics notification into
// OpenTelemetry instruments, Prometheus series, span events and log lines.
package telemetry
