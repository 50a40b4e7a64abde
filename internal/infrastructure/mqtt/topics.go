package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "chatgate"

// Topics builds Chatgate MQTT topics under a common prefix:
//
//	<prefix>/system/status          retained online/offline status
//	<prefix>/auth/events/<type>     session lifecycle events
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus returns the retained status topic.
//
// Example: chatgate/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// AuthEvent returns the topic for one event type.
//
// Example: chatgate/auth/events/login
func (t Topics) AuthEvent(eventType string) string {
	return t.Prefix() + "/auth/events/" + eventType
}

// AllAuthEvents returns a wildcard matching every auth event.
//
// Example: chatgate/auth/events/+
func (t Topics) AllAuthEvents() string {
	return t.Prefix() + "/auth/events/+"
}
