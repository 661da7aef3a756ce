// Package mqtt implements the bus transport over an MQTT broker.
//
// MQTT has no reply addresses, so the transport synthesises them. Each
// connection draws a random uuid at construction and subscribes to two
// patterns:
//
//	com.agocontrol/legacy     shared bus topic, queued for FetchMessage
//	com.agocontrol/<uuid>/+   private replies, matched to pending requests
//
// A request publishes on the shared topic with "reply-to" set to
// com.agocontrol/<uuid>/<n>, n being a per-connection sequence number, and
// waits for a message on exactly that topic. A reply that arrives after
// its request gave up is logged and dropped.
package mqtt
