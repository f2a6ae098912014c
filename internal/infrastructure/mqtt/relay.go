package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps mirrored payloads at the usual broker limit.
const maxPayloadSize = 1 << 20

// OutboundHandler receives one message injected from MQTT.
//
// relayTopic is the part of the MQTT topic below {prefix}/{node}/outbound/,
// or empty for a message on the bare outbound topic. A returned error is
// logged; MQTT delivery is not affected.
type OutboundHandler func(relayTopic string, payload []byte) error

// outboundSubscription is replayed after every reconnect.
type outboundSubscription struct {
	qos     byte
	handler OutboundHandler
}

// Mirror publishes one relay delivery to the node's inbound topic for kind,
// e.g. autohome/hall-pi/inbound/typed. Mirrored messages are never retained
// so late subscribers do not replay old bus traffic.
func (c *Client) Mirror(kind string, payload []byte) error {
	if kind == "" || strings.ContainsAny(kind, "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(c.topics.Inbound(kind), c.qos(), false, payload)
	return waitToken(token, ErrMirrorFailed)
}

// SubscribeOutbound routes every message under {prefix}/{node}/outbound/#
// to handler. A second call replaces the handler. The subscription survives
// reconnects until UnsubscribeOutbound.
func (c *Client) SubscribeOutbound(handler OutboundHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrOutboundFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := &outboundSubscription{qos: c.qos(), handler: handler}
	c.subMu.Lock()
	c.outbound = sub
	c.subMu.Unlock()

	token := c.client.Subscribe(c.topics.AllOutbound(), sub.qos, c.outboundCallback(handler))
	if err := waitToken(token, ErrOutboundFailed); err != nil {
		c.subMu.Lock()
		if c.outbound == sub {
			c.outbound = nil
		}
		c.subMu.Unlock()
		return err
	}
	return nil
}

// UnsubscribeOutbound stops injection. It is forgotten for reconnects even
// when the broker cannot be told.
func (c *Client) UnsubscribeOutbound() error {
	c.subMu.Lock()
	c.outbound = nil
	c.subMu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return waitToken(c.client.Unsubscribe(c.topics.AllOutbound()), ErrOutboundFailed)
}

// restoreOutbound re-subscribes after paho reconnects with a clean session.
func (c *Client) restoreOutbound() {
	c.subMu.RLock()
	sub := c.outbound
	c.subMu.RUnlock()

	if sub != nil {
		c.client.Subscribe(c.topics.AllOutbound(), sub.qos, c.outboundCallback(sub.handler))
	}
}

func (c *Client) outboundCallback(handler OutboundHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatchOutbound(handler, msg.Topic(), msg.Payload())
	}
}

// dispatchOutbound strips the node's outbound prefix and calls handler,
// recovering from panics so one bad command cannot kill paho's router.
func (c *Client) dispatchOutbound(handler OutboundHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("outbound handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	relayTopic, ok := c.topics.ParseOutbound(topic)
	if !ok {
		c.log().Warn("ignoring message outside outbound tree", "topic", topic)
		return
	}
	if err := handler(relayTopic, payload); err != nil {
		c.log().Warn("outbound message rejected", "topic", topic, "error", err)
	}
}

// waitToken waits for a paho token and wraps any failure in sentinel.
func waitToken(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultTokenTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultTokenTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS)
}
