// Package transport defines the broker-neutral contract between the
// connection layer and a concrete message broker.
//
// Three implementations live in sub-packages:
//
//   - amqp: AMQP 1.0 (qpid) with per-request dynamic reply addresses
//   - mqtt: MQTT with a private reply-topic namespace per connection
//   - nats: NATS with per-request inboxes
//
// All of them present the same shape: fire-and-forget SendMessage, a
// bounded SendRequest that always yields a Response Envelope, and a
// FetchMessage used by a single dispatch loop. Delivery failures are
// reported as error envelopes (no.reply, send.error, receiver.error)
// rather than Go errors, so a request has exactly one outcome value.
//
// # Lifecycle
//
//	Start -> (SendMessage | SendRequest | FetchMessage)* -> PrepareShutdown -> Shutdown
//
// PrepareShutdown stops new work and wakes every blocked caller; Shutdown
// releases broker resources and may be called more than once.
package transport
