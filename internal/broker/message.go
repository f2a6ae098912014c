package broker

// MessageTypeName is the discriminator of the generic Message wrapper.
const MessageTypeName = "Message"

// Envelope is implemented by payloads that already have their wire shape.
//
// Publish encodes an Envelope as-is. Any other payload is wrapped in a
// Message first, so the receiving side can always decode it with the
// default registry.
type Envelope interface {
	MessageType() string
}

// Message is the generic wrapper for payloads that are not Envelopes.
//
// Wire form: {"payload": <payload>}
type Message struct {
	Payload any `json:"payload"`
}

// MessageType implements Envelope.
func (Message) MessageType() string {
	return MessageTypeName
}

// RawJSON is a payload that is already encoded. It is sent verbatim after
// the separator instead of being wrapped in a Message.
type RawJSON []byte

// MessageType implements Envelope. The topic passed to Publish names the
// type on the wire.
func (RawJSON) MessageType() string {
	return ""
}

// MarshalJSON returns the encoded payload, or null when empty.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
