package transport

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
)

// DecodeReply turns a raw reply payload into a Response. A payload that is
// not a valid Response Envelope becomes an error.internal response.
func DecodeReply(payload []byte) *envelope.Response {
	resp, err := envelope.Decode(payload)
	if err != nil {
		return envelope.NewErrorResponse(envelope.IDInternal, fmt.Sprintf("invalid reply: %v", err))
	}
	return resp
}

// ReplyFromMap validates an already-decoded reply body.
func ReplyFromMap(raw envelope.Map) *envelope.Response {
	resp, err := envelope.Parse(raw)
	if err != nil {
		return envelope.NewErrorResponse(envelope.IDInternal, fmt.Sprintf("invalid reply: %v", err))
	}
	return resp
}

// EncodeContent marshals a content map for transports that send the bare
// content as the payload body.
func EncodeContent(content envelope.Map) ([]byte, error) {
	if content == nil {
		content = envelope.Map{}
	}
	b, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}
	return b, nil
}

// Outcome returns the label used to record a request in metrics.
func Outcome(resp *envelope.Response) string {
	if resp == nil {
		return "none"
	}
	return resp.Identifier()
}
