// Package amqp implements the bus transport over AMQP 1.0, the protocol
// spoken by the qpid broker the bus was first deployed on.
//
// Every participant attaches a receiver and a sender to one shared node
// (default "agocontrol"). A request attaches an additional receiver with a
// dynamic, broker-assigned address, sends that address as reply-to, and
// detaches it after the reply or the timeout. Outcomes map to envelopes:
//
//	reply received          -> the reply, validated
//	deadline or shutdown    -> no.reply
//	receive/attach failure  -> receiver.error
//	send failure            -> send.error
//
// Message content travels as a JSON data section. The subject and reply
// address use the standard AMQP properties; the sending instance is an
// application property.
package amqp
