package transport

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
)

// Errors shared by all transport implementations.
var (
	// ErrStartFailed is returned when a transport cannot reach its broker.
	ErrStartFailed = errors.New("transport: start failed")

	// ErrNotActive is returned when sending on a transport that is not started
	// or is shutting down.
	ErrNotActive = errors.New("transport: not active")

	// ErrSendFailed is returned when the broker rejects or drops a publish.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrNoReplyAddress is returned when replying to a message that carries
	// no reply address.
	ErrNoReplyAddress = errors.New("transport: message has no reply address")
)

// Transport is the contract every broker implementation fulfils.
//
// SendRequest never returns a Go error: timeouts, send failures and
// receive failures are reported as error envelopes with the identifiers
// no.reply, send.error and receiver.error.
type Transport interface {
	// Start connects to the broker and blocks until ready or until the
	// bounded connection attempt fails.
	Start(ctx context.Context) error

	// PrepareShutdown stops accepting new work and wakes blocked callers.
	PrepareShutdown()

	// Shutdown releases all broker resources. It is idempotent.
	Shutdown()

	// IsActive reports whether the transport is started and not shutting down.
	IsActive() bool

	// SendMessage publishes msg without waiting for a reply.
	SendMessage(ctx context.Context, msg envelope.Message) error

	// SendRequest publishes msg with a private reply address and waits up
	// to timeout for the reply.
	SendRequest(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response

	// FetchMessage waits up to timeout for the next inbound message on the
	// shared address. It returns nil on timeout, cancellation or shutdown.
	FetchMessage(ctx context.Context, timeout time.Duration) *Message
}

// ReplyFunc delivers a reply to the sender of an inbound message.
type ReplyFunc func(ctx context.Context, content envelope.Map) error

// AckFunc acknowledges an inbound message to the broker.
type AckFunc func(ctx context.Context) error

// Message is an inbound bus message with its broker-specific reply and
// acknowledgement hooks. The embedded envelope never carries a reply
// address; that is held privately by the reply capability.
type Message struct {
	envelope.Message

	reply ReplyFunc
	ack   AckFunc
}

// NewMessage wraps msg. reply may be nil when the sender expects no reply;
// ack may be nil for brokers without acknowledgement.
func NewMessage(msg envelope.Message, reply ReplyFunc, ack AckFunc) *Message {
	msg.ReplyTo = ""
	if msg.Content == nil {
		msg.Content = envelope.Map{}
	}
	return &Message{Message: msg, reply: reply, ack: ack}
}

// CanReply reports whether the sender is waiting for a reply.
func (m *Message) CanReply() bool {
	return m.reply != nil
}

// Reply sends content back to the requester.
func (m *Message) Reply(ctx context.Context, content envelope.Map) error {
	if m.reply == nil {
		return ErrNoReplyAddress
	}
	return m.reply(ctx, content)
}

// Acknowledge confirms delivery to the broker. It is a no-op when the
// broker has no acknowledgement.
func (m *Message) Acknowledge(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}
