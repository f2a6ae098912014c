// Package metrics exposes Prometheus collectors for the autohome relay.
//
// Collectors are registered with the default registry at init time and
// scraped through Handler, which the API server mounts at /metrics.
//
// Exported series:
//   - autohome_relay_messages_received_total{kind="typed|raw"}
//   - autohome_relay_messages_published_total
//   - autohome_relay_decode_errors_total{reason}
//   - autohome_relay_publish_errors_total
//   - autohome_relay_running
//   - autohome_relay_restarts_total
//   - autohome_bus_undelivered_total
//   - autohome_api_requests_total{method,status}
package metrics
