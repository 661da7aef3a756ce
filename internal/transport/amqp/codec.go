package amqp

import (
	"encoding/json"
	"fmt"

	goamqp "github.com/Azure/go-amqp"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
)

const (
	contentTypeJSON = "application/json"
	propInstance    = "instance"
)

// encodeMessage maps a bus message onto AMQP: the content map becomes a
// JSON data section, the subject and reply address use the standard
// properties and the instance travels as an application property.
func encodeMessage(msg envelope.Message) (*goamqp.Message, error) {
	content := msg.Content
	if content == nil {
		content = envelope.Map{}
	}
	body, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}

	out := goamqp.NewMessage(body)
	ct := contentTypeJSON
	out.Properties = &goamqp.MessageProperties{ContentType: &ct}
	if msg.Subject != "" {
		subject := msg.Subject
		out.Properties.Subject = &subject
	}
	if msg.ReplyTo != "" {
		replyTo := msg.ReplyTo
		out.Properties.ReplyTo = &replyTo
	}
	if msg.Instance != "" {
		out.ApplicationProperties = map[string]any{propInstance: msg.Instance}
	}
	return out, nil
}

// decodeMessage is the inverse of encodeMessage. AMQP-value map bodies,
// as sent by native qpid clients, are accepted too.
func decodeMessage(in *goamqp.Message) (envelope.Message, error) {
	content, err := decodeBody(in)
	if err != nil {
		return envelope.Message{}, err
	}

	msg := envelope.Message{Content: content}
	if p := in.Properties; p != nil {
		if p.Subject != nil {
			msg.Subject = *p.Subject
		}
		if p.ReplyTo != nil {
			msg.ReplyTo = *p.ReplyTo
		}
	}
	if s, ok := in.ApplicationProperties[propInstance].(string); ok {
		msg.Instance = s
	}
	return msg, nil
}

func decodeBody(in *goamqp.Message) (envelope.Map, error) {
	if data := in.GetData(); len(data) > 0 {
		var m envelope.Map
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding body: %w", err)
		}
		if m == nil {
			m = envelope.Map{}
		}
		return m, nil
	}

	switch v := in.Value.(type) {
	case nil:
		return envelope.Map{}, nil
	case map[string]any:
		return normalize(v).(map[string]any), nil
	case map[any]any:
		return normalize(v).(map[string]any), nil
	}
	return nil, fmt.Errorf("unsupported body type %T", in.Value)
}

// normalize converts AMQP maps with arbitrary keys into JSON-shaped maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}
