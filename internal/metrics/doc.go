// Package metrics exposes Prometheus collectors for the bus client.
//
// A *Metrics value is safe to use when nil: every recording method is a
// no-op on a nil receiver, so transports and the connection layer can be
// constructed without metrics in tests or when metrics are disabled.
//
// # Collectors
//
//   - graylogic_bus_transport_requests_total{transport,outcome}
//   - graylogic_bus_transport_request_duration_seconds{transport}
//   - graylogic_bus_transport_messages_sent_total{transport}
//   - graylogic_bus_transport_messages_fetched_total{transport}
//   - graylogic_bus_transport_late_replies_total{transport}
//   - graylogic_bus_connection_commands_total{outcome}
//   - graylogic_bus_connection_dispatch_errors_total
//   - graylogic_bus_connection_devices
//
// The Server type serves the registry over HTTP via promhttp.
package metrics
