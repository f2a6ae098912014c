package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

const testNode = "test-node"

// testConfig returns an MQTT configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "autohome-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		Bridge: config.MQTTBridgeConfig{
			Enabled:     true,
			TopicPrefix: "autohome-test",
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when none
// is listening.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()

	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg, testNode, Hooks{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("autohome", "hall-pi")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Status", topics.Status(), "autohome/hall-pi/status"},
		{"Inbound", topics.Inbound("typed"), "autohome/hall-pi/inbound/typed"},
		{"Outbound", topics.Outbound("Message"), "autohome/hall-pi/outbound/Message"},
		{"AllOutbound", topics.AllOutbound(), "autohome/hall-pi/outbound/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestNewTopics_Defaults(t *testing.T) {
	if got := NewTopics("", "n1").Status(); got != "autohome/n1/status" {
		t.Errorf("Status() = %q, want autohome/n1/status", got)
	}
	if got := NewTopics("site/", "n1").Status(); got != "site/n1/status" {
		t.Errorf("Status() = %q, want site/n1/status", got)
	}
}

func TestParseOutbound(t *testing.T) {
	topics := NewTopics("autohome", "hall-pi")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"autohome/hall-pi/outbound/Message", "Message", true},
		{"autohome/hall-pi/outbound/home/lights", "home/lights", true},
		{"autohome/hall-pi/outbound", "", true},
		{"autohome/other/outbound/Message", "", false},
		{"autohome/hall-pi/inbound/raw", "", false},
		{"autohome/hall-pi/outboundx", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.ParseOutbound(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseOutbound(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var msg StatusMessage
	if err := json.Unmarshal(statusPayload(StatusOffline, "n1", "c1", ReasonShutdown), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != StatusOffline || msg.Node != "n1" || msg.ClientID != "c1" || msg.Reason != ReasonShutdown {
		t.Errorf("status payload = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("Timestamp %q is not RFC3339: %v", msg.Timestamp, err)
	}
}

func TestSessionClientID(t *testing.T) {
	tests := []struct {
		base, node, want string
	}{
		{"autohome", "n1", "autohome-n1"},
		{"autohome", "", "autohome"},
		{"", "n1", "n1"},
	}
	for _, tt := range tests {
		if got := sessionClientID(tt.base, tt.node); got != tt.want {
			t.Errorf("sessionClientID(%q, %q) = %q, want %q", tt.base, tt.node, got, tt.want)
		}
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "relay"
	cfg.Auth.Password = "secret"

	opts := sessionOptions(cfg, NewTopics("autohome", "n1"), "autohome-n1")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "autohome-n1" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "autohome-n1")
	}
	if opts.Username != "relay" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

func TestSessionOptions_Will(t *testing.T) {
	opts := sessionOptions(testConfig(), NewTopics("autohome", "n1"), "c1")

	if !opts.WillEnabled || opts.WillTopic != "autohome/n1/status" || !opts.WillRetained {
		t.Errorf("will = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != ReasonLost || msg.ClientID != "c1" {
		t.Errorf("will payload = %+v", msg)
	}
}

// =============================================================================
// Unconnected Client Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestValidationBeforeConnection(t *testing.T) {
	client := &Client{topics: NewTopics("autohome", "n1")}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"mirror empty kind", client.Mirror("", nil), ErrInvalidKind},
		{"mirror nested kind", client.Mirror("typed/x", nil), ErrInvalidKind},
		{"mirror wildcard kind", client.Mirror("+", nil), ErrInvalidKind},
		{"mirror oversized", client.Mirror("raw", make([]byte, maxPayloadSize+1)), ErrPayloadTooLarge},
		{"mirror disconnected", client.Mirror("raw", []byte(`"ping"`)), ErrNotConnected},
		{"outbound nil handler", client.SubscribeOutbound(nil), ErrOutboundFailed},
		{"outbound disconnected", client.SubscribeOutbound(handler), ErrNotConnected},
		{"unsubscribe disconnected", client.UnsubscribeOutbound(), ErrNotConnected},
		{"health disconnected", client.HealthCheck(context.Background()), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
	if client.outbound != nil {
		t.Error("outbound subscription recorded while disconnected")
	}
}

func TestSessionLost_RunsHooks(t *testing.T) {
	logger := &recordingLogger{}
	var lost error
	client := &Client{
		topics: NewTopics("autohome", "n1"),
		hooks:  Hooks{Logger: logger, OnLost: func(err error) { lost = err }},
	}
	client.up.Store(true)

	cause := errors.New("pingresp timeout")
	client.sessionLost(cause)

	if client.up.Load() {
		t.Error("session still marked up after loss")
	}
	if lost != cause {
		t.Errorf("OnLost error = %v, want %v", lost, cause)
	}
	if logger.warns != 1 {
		t.Errorf("Warn calls = %d, want 1", logger.warns)
	}

	// Without hooks the loss is still recorded.
	bare := &Client{}
	bare.sessionLost(cause)
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors int
	warns  int
}

func (l *recordingLogger) Error(string, ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors++
}

func (l *recordingLogger) Warn(string, ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns++
}

func TestDispatchOutbound(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{topics: NewTopics("autohome", "hall-pi"), hooks: Hooks{Logger: logger}}

	var got []string
	record := func(relayTopic string, payload []byte) error {
		got = append(got, relayTopic+"="+string(payload))
		return nil
	}

	client.dispatchOutbound(record, "autohome/hall-pi/outbound/home/lights", []byte("on"))
	client.dispatchOutbound(record, "autohome/hall-pi/outbound", []byte("ping"))
	client.dispatchOutbound(record, "autohome/other/outbound/home", []byte("x"))

	if len(got) != 2 || got[0] != "home/lights=on" || got[1] != "=ping" {
		t.Errorf("handler calls = %q, want [home/lights=on =ping]", got)
	}
	if logger.warns != 1 {
		t.Errorf("Warn calls after foreign topic = %d, want 1", logger.warns)
	}

	client.dispatchOutbound(func(string, []byte) error { panic("boom") }, "autohome/hall-pi/outbound/x", nil)
	client.dispatchOutbound(func(string, []byte) error { return errors.New("bad payload") }, "autohome/hall-pi/outbound/x", nil)

	if logger.errors != 1 {
		t.Errorf("Error calls = %d, want 1", logger.errors)
	}
	if logger.warns != 2 {
		t.Errorf("Warn calls = %d, want 2", logger.warns)
	}
}

// =============================================================================
// Broker Tests (skipped without a local broker)
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg, testNode, Hooks{})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_FirstSessionIsNotReconnect(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()

	sessions := make(chan bool, 1)
	cfg := testConfig()
	cfg.Broker.ClientID = "autohome-test-hooks"
	client, err := Connect(cfg, testNode, Hooks{OnConnect: func(reconnect bool) { sessions <- reconnect }})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if client.ClientID() != "autohome-test-hooks-"+testNode {
		t.Errorf("ClientID() = %q", client.ClientID())
	}
	select {
	case reconnect := <-sessions:
		if reconnect {
			t.Error("OnConnect(reconnect = true) on first session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called")
	}
}

func TestConnectAndClose(t *testing.T) {
	client := connectOrSkip(t, "autohome-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

// watch subscribes a raw paho handler on topic and forwards payloads.
func watch(t *testing.T, c *Client, topic string) <-chan []byte {
	t.Helper()
	received := make(chan []byte, 4)
	token := c.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case received <- msg.Payload():
		default:
		}
	})
	if err := waitToken(token, ErrOutboundFailed); err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return received
}

func TestOutboundRoundtrip(t *testing.T) {
	node := connectOrSkip(t, "autohome-test-node")
	tool := connectOrSkip(t, "autohome-test-tool")

	received := make(chan string, 1)
	err := node.SubscribeOutbound(func(relayTopic string, payload []byte) error {
		select {
		case received <- relayTopic + "=" + string(payload):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeOutbound() error = %v", err)
	}
	if node.outbound == nil {
		t.Error("outbound subscription not tracked for reconnect")
	}

	time.Sleep(100 * time.Millisecond)
	token := tool.client.Publish(node.Topics().Outbound("roundtrip"), 1, false, []byte(`{"test":1}`))
	if err := waitToken(token, ErrMirrorFailed); err != nil {
		t.Fatalf("publish outbound: %v", err)
	}

	select {
	case got := <-received:
		if want := `roundtrip={"test":1}`; got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for outbound message")
	}

	if err := node.UnsubscribeOutbound(); err != nil {
		t.Errorf("UnsubscribeOutbound() error = %v", err)
	}
	if node.outbound != nil {
		t.Error("outbound subscription still tracked after UnsubscribeOutbound")
	}
}

func TestMirrorReachesInboundTopic(t *testing.T) {
	node := connectOrSkip(t, "autohome-test-mirror")
	watcher := connectOrSkip(t, "autohome-test-mirror-watch")

	received := watch(t, watcher, node.Topics().Inbound("raw"))
	time.Sleep(100 * time.Millisecond)

	if err := node.Mirror("raw", []byte(`"ping"`)); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	select {
	case payload := <-received:
		if string(payload) != `"ping"` {
			t.Errorf("payload = %s, want \"ping\"", payload)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for mirrored message")
	}
}

func TestOnlineStatusRetained(t *testing.T) {
	client := connectOrSkip(t, "autohome-test-status")
	watcher := connectOrSkip(t, "autohome-test-status-watch")

	received := watch(t, watcher, client.Topics().Status())

	select {
	case payload := <-received:
		var msg StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		if msg.Node != testNode {
			t.Errorf("status node = %q, want %q", msg.Node, testNode)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for retained status")
	}
}
