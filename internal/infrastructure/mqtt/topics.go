package mqtt

import "fmt"

// Topic prefixes of the gateway's MQTT hierarchy.
//
// Property topics use the flat scheme wukong/{category}/{node}/{object}/{property};
// acknowledgements are per node and system topics sit under wukong/system.
const (
	// TopicPrefix is the base for every gateway topic.
	TopicPrefix = "wukong"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "wukong/system"
)

// Topics provides builders for the gateway's MQTT topics.
// Using these helpers keeps topic naming consistent between the bridge,
// the client's LWT and tests.
//
//	topics := mqtt.Topics{}
//	topics.State(3, 1, 0)
//	// Returns: "wukong/state/3/1/0"
type Topics struct{}

// =============================================================================
// Property Topics
// =============================================================================

// State returns the retained state topic for a property.
//
// Example: wukong/state/3/1/0
func (Topics) State(node, object, property uint8) string {
	return fmt.Sprintf("%s/state/%d/%d/%d", TopicPrefix, node, object, property)
}

// Command returns the topic on which a property write is requested.
//
// Example: wukong/command/3/1/0
func (Topics) Command(node, object, property uint8) string {
	return fmt.Sprintf("%s/command/%d/%d/%d", TopicPrefix, node, object, property)
}

// Ack returns the acknowledgement topic for commands addressed to a node.
//
// Example: wukong/ack/3
func (Topics) Ack(node uint8) string {
	return fmt.Sprintf("%s/ack/%d", TopicPrefix, node)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the online/offline status topic (also the LWT topic).
//
// Example: wukong/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SystemHealth returns the periodic bridge health topic.
//
// Example: wukong/system/health
func (Topics) SystemHealth() string {
	return TopicPrefixSystem + "/health"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching every property command.
//
// Pattern: wukong/command/+/+/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+/+"
}

// AllStates returns a pattern matching every property state.
//
// Pattern: wukong/state/+/+/+
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+/+/+"
}

// AllAcks returns a pattern matching every node's acknowledgements.
//
// Pattern: wukong/ack/+
func (Topics) AllAcks() string {
	return TopicPrefix + "/ack/+"
}

// AllTopics returns a pattern matching every gateway topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: wukong/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
