package mqtt

import (
	"strconv"
	"strings"
)

// Topic layout of the control bus.
//
//	com.agocontrol/legacy                  shared topic, every participant
//	com.agocontrol/<conn-uuid>/<n>         private reply topic of one request
const (
	// TopicBase is the root of every bus topic.
	TopicBase = "com.agocontrol"

	// TopicShared carries all commands, events and announcements.
	TopicShared = TopicBase + "/legacy"
)

// Topics provides builders for bus topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	ns := topics.ReplyNamespace(connID)
//	// Returns: "com.agocontrol/4f1c.../"
type Topics struct{}

// Shared returns the shared bus topic.
func (Topics) Shared() string {
	return TopicShared
}

// ReplyNamespace returns the private reply prefix of one connection,
// including the trailing slash.
func (Topics) ReplyNamespace(connID string) string {
	return TopicBase + "/" + connID + "/"
}

// ReplyTopic returns the reply topic for request number seq.
func (t Topics) ReplyTopic(connID string, seq uint64) string {
	return t.ReplyNamespace(connID) + strconv.FormatUint(seq, 10)
}

// ReplyWildcard returns the subscription pattern covering every reply
// topic of one connection.
func (t Topics) ReplyWildcard(connID string) string {
	return t.ReplyNamespace(connID) + "+"
}

// InNamespace reports whether topic lies under the connection's reply namespace.
func (t Topics) InNamespace(connID, topic string) bool {
	return strings.HasPrefix(topic, t.ReplyNamespace(connID))
}
