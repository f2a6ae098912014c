package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every autohome topic when none is configured.
const DefaultTopicPrefix = "autohome"

// Topics builds the MQTT topics one node uses. Every topic lives under
// {prefix}/{node}/ so several relay nodes can share one MQTT broker.
//
//	topics := mqtt.NewTopics("autohome", "hall-pi")
//	topics.Inbound("typed")    // autohome/hall-pi/inbound/typed
//	topics.Outbound("Message") // autohome/hall-pi/outbound/Message
type Topics struct {
	Prefix string
	Node   string
}

// NewTopics returns the topic builder for node. An empty prefix means
// DefaultTopicPrefix.
func NewTopics(prefix, node string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: strings.TrimSuffix(prefix, "/"), Node: node}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", t.Prefix, t.Node)
}

// Status returns the retained online/offline topic for the node.
//
// Example: autohome/hall-pi/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Inbound returns the topic relay messages of the given kind are mirrored to.
//
// Example: autohome/hall-pi/inbound/raw
func (t Topics) Inbound(kind string) string {
	return fmt.Sprintf("%s/inbound/%s", t.base(), kind)
}

// Outbound returns the topic that injects a message onto the relay bus under
// relayTopic.
//
// Example: autohome/hall-pi/outbound/Message
func (t Topics) Outbound(relayTopic string) string {
	return fmt.Sprintf("%s/outbound/%s", t.base(), relayTopic)
}

// AllOutbound matches every outbound topic of the node, including the bare
// outbound topic used for raw messages.
//
// Example: autohome/hall-pi/outbound/#
func (t Topics) AllOutbound() string {
	return t.base() + "/outbound/#"
}

// ParseOutbound extracts the relay topic from an outbound MQTT topic.
// A message on the bare outbound topic yields an empty relay topic.
func (t Topics) ParseOutbound(topic string) (relayTopic string, ok bool) {
	bare := t.base() + "/outbound"
	if topic == bare {
		return "", true
	}
	rest, found := strings.CutPrefix(topic, bare+"/")
	if !found {
		return "", false
	}
	return rest, true
}
