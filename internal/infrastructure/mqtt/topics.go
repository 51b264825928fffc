package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
const (
	// TopicPrefixStatus carries retained online/offline status per client.
	TopicPrefixStatus = "minifc/status"

	// TopicPrefixShadow is the root of the shadow document topics.
	// Layout: $aws/things/{thing}/shadow/{get|update}[/accepted|/rejected|/delta]
	TopicPrefixShadow = "$aws/things"
)

// Shadow reply suffixes.
const (
	SuffixAccepted = "accepted"
	SuffixRejected = "rejected"
	SuffixDelta    = "delta"
)

// Shadow operations.
const (
	OpGet    = "get"
	OpUpdate = "update"
)

// Topics provides builders for minifc MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ShadowDelta("master_brain")
//	// Returns: "$aws/things/master_brain/shadow/update/delta"
type Topics struct{}

// DeviceStatus returns the retained status topic for a client.
//
// Example: minifc/status/sort_arm_ggd
func (Topics) DeviceStatus(clientID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixStatus, clientID)
}

// =============================================================================
// Shadow Topics
// =============================================================================

// ShadowOp returns the request topic for a shadow operation.
//
// Example: $aws/things/master_brain/shadow/update
func (Topics) ShadowOp(thing, op string) string {
	return fmt.Sprintf("%s/%s/shadow/%s", TopicPrefixShadow, thing, op)
}

// ShadowReply returns the reply topic for a shadow operation.
//
// Example: $aws/things/master_brain/shadow/get/accepted
func (t Topics) ShadowReply(thing, op, suffix string) string {
	return t.ShadowOp(thing, op) + "/" + suffix
}

// ShadowDelta returns the delta topic of a thing.
//
// Example: $aws/things/master_brain/shadow/update/delta
func (t Topics) ShadowDelta(thing string) string {
	return t.ShadowReply(thing, OpUpdate, SuffixDelta)
}

// AllShadowRequests returns a pattern matching get and update requests
// for every thing. The shadow service subscribes to it.
//
// Pattern: $aws/things/+/shadow/+
func (Topics) AllShadowRequests() string {
	return TopicPrefixShadow + "/+/shadow/+"
}

// ParseShadowTopic splits a shadow request or reply topic into its thing
// name, operation and optional suffix. ok is false for any other topic.
func ParseShadowTopic(topic string) (thing, op, suffix string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixShadow+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || len(parts) > 4 || parts[1] != "shadow" || parts[0] == "" {
		return "", "", "", false
	}
	if parts[2] != OpGet && parts[2] != OpUpdate {
		return "", "", "", false
	}
	if len(parts) == 4 {
		suffix = parts[3]
	}
	return parts[0], parts[2], suffix, true
}
