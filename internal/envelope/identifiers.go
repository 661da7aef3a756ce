package envelope

// Response identifiers understood by every bus participant.
const (
	IDSuccess           = "success"
	IDFailed            = "failed"
	IDUnknownCommand    = "unknown.command"
	IDBadParameters     = "bad.parameters"
	IDMissingParameters = "missing.parameters"
	IDNotFound          = "not.found"
	IDNoCommands        = "no.commands"

	// Delivery failures reported by transports.
	IDNoReply       = "no.reply"
	IDReceiverError = "receiver.error"
	IDSendError     = "send.error"

	// IDInternal marks a reply that could not be produced or understood,
	// such as a handler panic or a reply that is not a valid envelope.
	IDInternal = "error.internal"
)
