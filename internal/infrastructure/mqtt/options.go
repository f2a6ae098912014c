package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// Session timing.
const (
	defaultConnectTimeout = 10 * time.Second

	// defaultTokenTimeout bounds every wait on a publish or subscribe ack.
	defaultTokenTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second

	tlsMinVersion = tls.VersionTLS12
)

// Node status values and the reasons carried with StatusOffline.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonShutdown = "graceful_shutdown"
	ReasonLost     = "unexpected_disconnect"
)

// StatusMessage is the retained payload on {prefix}/{node}/status.
type StatusMessage struct {
	Status    string `json:"status"`
	Node      string `json:"node"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// sessionClientID suffixes the configured client ID with the node so
// several relay nodes can share one broker.
func sessionClientID(base, node string) string {
	if node == "" {
		return base
	}
	if base == "" {
		return node
	}
	return base + "-" + node
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// sessionOptions builds the paho options for one node's session. The will
// marks the node offline if the session drops without a clean Close.
func sessionOptions(cfg config.MQTTConfig, topics Topics, clientID string) *pahomqtt.ClientOptions {
	will := statusPayload(StatusOffline, topics.Node, clientID, ReasonLost)

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		SetBinaryWill(topics.Status(), will, 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

func statusPayload(status, node, clientID, reason string) []byte {
	data, err := json.Marshal(StatusMessage{
		Status:    status,
		Node:      node,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return []byte(`{"status":"` + status + `"}`)
	}
	return data
}
