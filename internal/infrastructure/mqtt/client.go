package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Hooks observe the session. They are fixed at Connect and run on paho's
// goroutines, so they must not block.
type Hooks struct {
	// Logger receives lost connections and rejected outbound messages.
	// Nil discards them.
	Logger Logger

	// OnConnect runs after every successful (re)connect, once the outbound
	// subscription has been restored. reconnect is false the first time.
	OnConnect func(reconnect bool)

	// OnLost runs when the session drops. Paho reconnects on its own.
	OnLost func(err error)
}

// Client is one relay node's session with the MQTT broker.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	topics   Topics
	clientID string
	hooks    Hooks

	subMu    sync.RWMutex
	outbound *outboundSubscription

	up       atomic.Bool
	sessions atomic.Int64
}

// Connect opens a session for node and announces it online.
//
// The node's status topic carries a retained Last Will, so the broker
// reports the node offline if the process dies without Close. Auto-reconnect
// uses the backoff bounds from cfg.Reconnect. The session's client ID is the
// configured one suffixed with node.
//
// Returns ErrConnectionFailed if the broker does not accept the session
// within the connect timeout.
func Connect(cfg config.MQTTConfig, node string, hooks Hooks) (*Client, error) {
	topics := NewTopics(cfg.Bridge.TopicPrefix, node)
	c := &Client{
		cfg:      cfg,
		topics:   topics,
		clientID: sessionClientID(cfg.Broker.ClientID, node),
		hooks:    hooks,
	}

	opts := sessionOptions(cfg, topics, c.clientID).
		SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := waitConnect(c.client.Connect()); err != nil {
		return nil, err
	}
	// sessionUp runs asynchronously and may not have fired yet.
	c.up.Store(true)
	return c, nil
}

func waitConnect(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// ClientID returns the session's MQTT client ID.
func (c *Client) ClientID() string {
	return c.clientID
}

// Topics returns the topic builder for this client's node.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) sessionUp() {
	c.up.Store(true)
	c.restoreOutbound()
	c.publishStatus(StatusOnline, "")

	n := c.sessions.Add(1)
	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect(n > 1)
	}
}

func (c *Client) sessionLost(err error) {
	c.up.Store(false)
	c.log().Warn("MQTT session lost", "node", c.topics.Node, "error", err)
	if c.hooks.OnLost != nil {
		c.hooks.OnLost(err)
	}
}

func (c *Client) log() Logger {
	if c.hooks.Logger == nil {
		return nopLogger{}
	}
	return c.hooks.Logger
}

// publishStatus sends the retained status for the node. The token is
// returned so Close can wait for the offline notice.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload := statusPayload(status, c.topics.Node, c.clientID, reason)
	return c.client.Publish(c.topics.Status(), c.qos(), true, payload)
}

// Close marks the node offline and disconnects. Closing a client that never
// connected, or closing twice, is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(StatusOffline, ReasonShutdown).WaitTimeout(defaultTokenTimeout)
	}
	c.up.Store(false)
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.client != nil && c.client.IsConnected()
}
