// Package envelope defines the message and response shapes exchanged on the
// Gray Logic control bus.
//
// Every bus message is a JSON object with a content map, an optional subject
// and the sending instance. Every reply to a request is a Response Envelope:
// a JSON object holding exactly one of two branches.
//
//	{"result": {"identifier": "success", "message": "ok", "data": {...}}}
//	{"error":  {"identifier": "no.reply", "message": "timeout"}}
//
// The identifier is a dotted machine-readable tag. Transports use the
// identifiers no.reply, receiver.error and send.error to report delivery
// failures without returning a Go error, so callers always inspect one
// value.
//
// # Usage
//
//	resp := transport.SendRequest(ctx, msg, 3*time.Second)
//	if err := resp.Err(); err != nil {
//	    var rerr *envelope.ResponseError
//	    if errors.As(err, &rerr) && rerr.Identifier == envelope.IDNoReply {
//	        // controller did not answer in time
//	    }
//	}
//
// Command handlers report application failures by returning a *CommandError,
// which the connection layer converts into an error response.
package envelope
