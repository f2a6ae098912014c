package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"

	"github.com/brulejr/autohome/internal/broker"
)

// sendOptions configures a stand-alone publisher.
type sendOptions struct {
	Endpoint  broker.Endpoint
	Separator string
	Topic     string
	Count     int
	Interval  time.Duration

	// Settle is the pause between opening the socket and the first send.
	// Subscribers that join a PUB socket miss anything sent before their
	// subscription arrives.
	Settle time.Duration
}

func newSendCmd() *cobra.Command {
	var (
		ep   endpointFlags
		opts sendOptions
	)

	cmd := &cobra.Command{
		Use:   "send [flags] PAYLOAD...",
		Short: "Publish messages onto a bus endpoint",
		Long: `Publish messages onto a bus endpoint.

With --topic the payload is sent as "topic|{"payload":...}": valid JSON is
embedded as-is, anything else as a JSON string. Without --topic the
payload is sent as raw text.`,
		Example: `  autohome send --address tcp://127.0.0.1:5563 --topic Message '{"on":true}'
  autohome send --address tcp://127.0.0.1:5563 --bind --count 10 --interval 1s hello`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := ep.endpoint()
			if err != nil {
				return err
			}
			opts.Endpoint = endpoint
			opts.Separator = ep.separator
			return sendMessages(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	ep.register(cmd)
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "message topic (type name); empty sends raw text")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of times to send the message")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 100*time.Millisecond, "pause between repeated sends")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 500*time.Millisecond, "pause before the first send")
	return cmd
}

// sendMessages opens a PUB socket on opts.Endpoint and sends payload
// opts.Count times.
func sendMessages(ctx context.Context, opts sendOptions, payload string, out io.Writer) error {
	codec := broker.Codec{Separator: opts.Separator}
	wire, err := codec.Pack(opts.Topic, sendPayload(opts.Topic, payload))
	if err != nil {
		return err
	}

	pub := zmq4.NewPub(ctx, dialOptions()...)
	defer pub.Close()

	if err := opts.Endpoint.Apply(pub); err != nil {
		return fmt.Errorf("%s: %w", opts.Endpoint, err)
	}
	if err := sleepCtx(ctx, opts.Settle); err != nil {
		return nil
	}

	count := opts.Count
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, opts.Interval); err != nil {
				return nil
			}
		}
		if err := pub.Send(zmq4.NewMsgString(wire)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintln(out, wire)
	}
	return nil
}

// sendPayload chooses how a command-line payload is encoded.
func sendPayload(topic, payload string) any {
	if topic == "" {
		return payload
	}
	if json.Valid([]byte(payload)) {
		return broker.Message{Payload: broker.RawJSON(payload)}
	}
	return payload
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
