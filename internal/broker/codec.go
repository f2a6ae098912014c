package broker

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// Codec converts between payloads and the relay wire format.
type Codec struct {
	// Separator sits between the topic and the JSON payload. It may be
	// longer than one character. Empty means config.DefaultMessageSeparator.
	Separator string

	// Registry resolves inbound type discriminators in structured mode.
	Registry *Registry
}

// Pack renders topic and payload as a wire string.
//
// With a topic the result is topic + Separator + JSON. The payload is
// wrapped in a Message unless it is already an Envelope. Without a topic
// the payload's plain text form is sent as-is.
//
// Returns ErrInvalidTopic if topic contains the separator and
// ErrSerialization if the payload cannot be marshalled.
func (c Codec) Pack(topic string, payload any) (string, error) {
	if topic == "" {
		return plainText(payload), nil
	}
	if strings.Contains(topic, c.separator()) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	if _, ok := payload.(Envelope); !ok {
		payload = Message{Payload: payload}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: topic %q: %w", ErrSerialization, topic, err)
	}
	return topic + c.separator() + string(data), nil
}

// Unpack decodes one inbound wire string.
//
// In structured mode a message containing the separator is split at its
// first occurrence and the JSON is decoded with the type registered for
// the prefix. Every other message is returned unchanged as a string.
func (c Codec) Unpack(raw string, structured bool) (any, error) {
	if !structured {
		return raw, nil
	}
	name, data, found := strings.Cut(raw, c.separator())
	if !found {
		return raw, nil
	}
	if c.Registry == nil {
		return nil, fmt.Errorf("%w: %q (no registry)", ErrUnknownType, name)
	}
	return c.Registry.Decode(name, []byte(data))
}

func (c Codec) separator() string {
	if c.Separator == "" {
		return config.DefaultMessageSeparator
	}
	return c.Separator
}

func plainText(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case RawJSON:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
