package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/broker"
	"github.com/brulejr/autohome/internal/eventbus"
	"github.com/brulejr/autohome/internal/infrastructure/mqtt"
)

// Message kinds used in inbound topics.
const (
	KindTyped = "typed"
	KindRaw   = "raw"
)

const defaultQueueSize = 256

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Mirror(kind string, payload []byte) error
	SubscribeOutbound(handler mqtt.OutboundHandler) error
	UnsubscribeOutbound() error
	Topics() mqtt.Topics
}

// Relay sends messages onto the bus. *broker.Service satisfies it.
type Relay interface {
	Publish(topic string, payload any) error
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// InboundMessage is the JSON mirrored to MQTT for each relay delivery.
type InboundMessage struct {
	Kind       string    `json:"kind"`
	Type       string    `json:"type,omitempty"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Options holds the collaborators for a bridge.
type Options struct {
	// Bus is the local event bus the relay delivers to. Required.
	Bus *eventbus.Bus

	// Relay receives messages injected from MQTT. Required.
	Relay Relay

	// MQTTClient is the connected MQTT client. Required.
	MQTTClient MQTTClient

	// QueueSize bounds the mirror queue. Zero means 256.
	QueueSize int

	// Logger is an optional structured logger.
	Logger Logger
}

// Stats counts bridge traffic.
type Stats struct {
	Mirrored uint64 `json:"mirrored"`
	Dropped  uint64 `json:"dropped"`
	Injected uint64 `json:"injected"`
	Failed   uint64 `json:"failed"`
}

// Bridge mirrors relay traffic to MQTT and injects MQTT commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bus    *eventbus.Bus
	relay  Relay
	mqtt   MQTTClient
	topics mqtt.Topics
	logger Logger

	queue       chan any
	unsubscribe func()
	done        chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	mirrored atomic.Uint64
	dropped  atomic.Uint64
	injected atomic.Uint64
	failed   atomic.Uint64
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, errors.New("bridge: event bus is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("bridge: relay is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("bridge: MQTT client is required")
	}

	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	return &Bridge{
		bus:    opts.Bus,
		relay:  opts.Relay,
		mqtt:   opts.MQTTClient,
		topics: opts.MQTTClient.Topics(),
		logger: opts.Logger,
		queue:  make(chan any, size),
		done:   make(chan struct{}),
	}, nil
}

// Start subscribes to the outbound MQTT topics and to the event bus.
// A failed Start can be retried; Start after Stop returns an error.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return errors.New("bridge: already stopped")
	}
	if b.started {
		return nil
	}

	outbound := b.topics.AllOutbound()
	if err := b.mqtt.SubscribeOutbound(b.handleOutbound); err != nil {
		return fmt.Errorf("subscribe to %s: %w", outbound, err)
	}

	b.wg.Add(1)
	go b.mirrorLoop(ctx)

	b.unsubscribe = eventbus.SubscribeAll(b.bus, b.enqueue)
	b.started = true
	b.logInfo("bridge started", "outbound", outbound, "inbound", b.topics.Inbound("+"))
	return nil
}

// Stop unsubscribes from both sides and waits for the mirror goroutine.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true
	close(b.done)
	if !b.started {
		return
	}

	b.unsubscribe()
	if err := b.mqtt.UnsubscribeOutbound(); err != nil {
		b.logDebug("unsubscribe outbound", "error", err)
	}
	b.wg.Wait()
	b.logInfo("bridge stopped")
}

// Stats returns traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Mirrored: b.mirrored.Load(),
		Dropped:  b.dropped.Load(),
		Injected: b.injected.Load(),
		Failed:   b.failed.Load(),
	}
}

// enqueue runs on the relay's receive loop and must not block.
func (b *Bridge) enqueue(event any) {
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bridge) mirrorLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.mirror(event)
		}
	}
}

// mirror publishes one relay delivery to its inbound topic.
func (b *Bridge) mirror(event any) {
	msg := inboundMessage(event, time.Now().UTC())
	payload, err := json.Marshal(msg)
	if err != nil {
		b.failed.Add(1)
		b.logError("encoding inbound message", err)
		return
	}
	if err := b.mqtt.Mirror(msg.Kind, payload); err != nil {
		b.failed.Add(1)
		b.logError("mirroring inbound message", err)
		return
	}
	b.mirrored.Add(1)
}

func inboundMessage(event any, at time.Time) InboundMessage {
	if s, ok := event.(string); ok {
		return InboundMessage{Kind: KindRaw, Payload: s, ReceivedAt: at}
	}
	msg := InboundMessage{Kind: KindTyped, Payload: event, ReceivedAt: at}
	if env, ok := event.(broker.Envelope); ok {
		msg.Type = env.MessageType()
	}
	return msg
}

// handleOutbound injects an MQTT message onto the relay bus. JSON under a
// relay topic is sent as-is; anything else goes out as raw text.
func (b *Bridge) handleOutbound(relayTopic string, payload []byte) error {
	var err error
	switch {
	case relayTopic == "":
		err = b.relay.Publish("", string(payload))
	case json.Valid(payload):
		err = b.relay.Publish(relayTopic, broker.RawJSON(payload))
	default:
		err = b.relay.Publish("", string(payload))
	}
	if err != nil {
		b.failed.Add(1)
		return fmt.Errorf("relaying %q: %w", relayTopic, err)
	}

	b.injected.Add(1)
	b.logDebug("injected outbound message", "topic", relayTopic, "size", len(payload))
	return nil
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
