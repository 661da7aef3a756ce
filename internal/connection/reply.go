package connection

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
)

type replyKind int

const (
	replyNone replyKind = iota
	replyEnvelope
	replyRaw
)

// Reply is what a command handler returns: nothing, a response envelope,
// or a bare value.
type Reply struct {
	kind     replyKind
	envelope envelope.Map
	value    any
}

// NoReply reports that the handler produced no answer. The requester
// receives a "failed" error so it is never left without a reply.
func NoReply() Reply {
	return Reply{kind: replyNone}
}

// EnvelopeReply forwards m to the requester unmodified.
func EnvelopeReply(m envelope.Map) Reply {
	if m == nil {
		return NoReply()
	}
	return Reply{kind: replyEnvelope, envelope: m}
}

// RawReply sends v as the reply. A map of any key or value type is
// forwarded as an object; any other value is wrapped as {"result": v}.
// Nil and nil maps count as no reply.
func RawReply(v any) Reply {
	if v == nil {
		return NoReply()
	}
	if m, ok := v.(map[string]any); ok {
		if m == nil {
			return NoReply()
		}
		return Reply{kind: replyRaw, value: m}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		if rv.IsNil() {
			return NoReply()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return Reply{kind: replyRaw, value: out}
	}
	return Reply{kind: replyRaw, value: v}
}

// IsNone reports whether the reply carries nothing.
func (r Reply) IsNone() bool {
	return r.kind == replyNone
}

// Payload normalizes the reply into the content sent back on the bus.
// noReplyMessage is the failure message used when the reply is empty.
func (r Reply) Payload(noReplyMessage string) envelope.Map {
	switch r.kind {
	case replyEnvelope:
		return r.envelope
	case replyRaw:
		if m, ok := r.value.(map[string]any); ok {
			return m
		}
		return envelope.Map{"result": r.value}
	}
	return envelope.Failed(noReplyMessage, nil)
}

// CommandHandler handles a command directed at one of this instance's
// devices. A returned *envelope.CommandError becomes its error envelope;
// any other error becomes a "failed" envelope carrying err's text.
type CommandHandler func(ctx context.Context, internalID string, content envelope.Map) (Reply, error)

// EventHandler receives every message whose subject names an event.
type EventHandler func(ctx context.Context, subject string, content envelope.Map)
