// Package nats implements the bus transport over NATS core messaging.
//
// All participants publish and subscribe on one subject (default
// "agocontrol"). Payloads are JSON bus messages. NATS carries a native
// reply subject, so a request subscribes to a fresh inbox, publishes with
// that inbox as reply, and unsubscribes when the reply or the timeout
// arrives.
package nats
