package broker

import (
	"errors"
	"reflect"
	"testing"
)

type homeEvent struct {
	Value int    `json:"value"`
	Room  string `json:"room,omitempty"`
}

type lightEvent struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

func (lightEvent) MessageType() string { return "light" }

type named string

func (n named) String() string { return "named:" + string(n) }

func testRegistry() *Registry {
	r := DefaultRegistry()
	RegisterType[homeEvent](r, "home")
	RegisterType[lightEvent](r, "light")
	return r
}

func TestCodec_Pack(t *testing.T) {
	c := Codec{Separator: "|", Registry: testRegistry()}

	tests := []struct {
		name    string
		topic   string
		payload any
		want    string
	}{
		{"plain payload is wrapped", "Message", "Test #1", `Message|{"payload":"Test #1"}`},
		{"struct payload is wrapped", "home", homeEvent{Value: 1}, `home|{"payload":{"value":1}}`},
		{"envelope is sent as-is", "light", lightEvent{ID: "l1", Level: 80}, `light|{"id":"l1","level":80}`},
		{"raw json is sent verbatim", "home", RawJSON(`{"value":5}`), `home|{"value":5}`},
		{"empty topic sends string", "", "ping", "ping"},
		{"empty topic sends bytes", "", []byte("pong"), "pong"},
		{"empty topic uses Stringer", "", named("x"), "named:x"},
		{"empty topic formats other values", "", 42, "42"},
		{"empty topic with nil", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Pack(tt.topic, tt.payload)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Pack() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodec_PackErrors(t *testing.T) {
	c := Codec{Separator: "|"}

	if _, err := c.Pack("a|b", "x"); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Pack(topic with separator) error = %v, want ErrInvalidTopic", err)
	}
	if _, err := c.Pack("home", make(chan int)); !errors.Is(err, ErrSerialization) {
		t.Errorf("Pack(chan) error = %v, want ErrSerialization", err)
	}
}

func TestCodec_Unpack(t *testing.T) {
	c := Codec{Separator: "|", Registry: testRegistry()}

	tests := []struct {
		name       string
		raw        string
		structured bool
		want       any
	}{
		{"typed", `home|{"value":1}`, true, homeEvent{Value: 1}},
		{"typed envelope", `light|{"id":"l1","level":80}`, true, lightEvent{ID: "l1", Level: 80}},
		{"generic message", `Message|{"payload":"Test #1"}`, true, Message{Payload: "Test #1"}},
		{"split at first separator", `home|{"value":2,"room":"a|b"}`, true, homeEvent{Value: 2, Room: "a|b"}},
		{"no separator stays raw", "ping", true, "ping"},
		{"raw mode ignores separator", `home|{"value":1}`, false, `home|{"value":1}`},
		{"raw mode empty", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Unpack(tt.raw, tt.structured)
			if err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unpack() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCodec_UnpackErrors(t *testing.T) {
	c := Codec{Separator: "|", Registry: testRegistry()}

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unregistered type", `other|{"value":1}`, ErrUnknownType},
		{"bad json", `home|{"value":`, ErrSerialization},
		{"wrong shape", `home|{"value":"one"}`, ErrSerialization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Unpack(tt.raw, true)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Unpack() error = %v, want %v", err, tt.want)
			}
			if got != nil {
				t.Errorf("Unpack() = %#v, want nil on error", got)
			}
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := Codec{Separator: "::", Registry: testRegistry()}

	in := lightEvent{ID: "hall", Level: 35}
	wire, err := c.Pack("light", in)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if wire != `light::{"id":"hall","level":35}` {
		t.Errorf("Pack() = %q", wire)
	}

	out, err := c.Unpack(wire, true)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if out != in {
		t.Errorf("round trip = %#v, want %#v", out, in)
	}

	raw, _ := c.Pack("", "status ok")
	back, err := c.Unpack(raw, true)
	if err != nil || back != "status ok" {
		t.Errorf("raw round trip = %#v, %v; want %q", back, err, "status ok")
	}
}

func TestCodec_DefaultSeparator(t *testing.T) {
	c := Codec{Registry: testRegistry()}

	wire, err := c.Pack("home", 1)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if wire != `home|{"payload":1}` {
		t.Errorf("Pack() = %q, want %q", wire, `home|{"payload":1}`)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	if got := r.Names(); !reflect.DeepEqual(got, []string{"Message"}) {
		t.Errorf("Names() = %v, want [Message]", got)
	}

	RegisterType[homeEvent](r, "home")
	if _, ok := r.Lookup("home"); !ok {
		t.Error("Lookup(home) not found after RegisterType")
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Error("Lookup(nope) found, want missing")
	}

	// Overriding an existing discriminator replaces its decoder.
	r.Register("Message", func([]byte) (any, error) { return "overridden", nil })
	got, err := r.Decode("Message", []byte(`{}`))
	if err != nil || got != "overridden" {
		t.Errorf("Decode(Message) = %v, %v; want overridden", got, err)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"Message", "home"}) {
		t.Errorf("Names() = %v, want [Message home]", got)
	}
}
