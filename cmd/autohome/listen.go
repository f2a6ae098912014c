package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"

	"github.com/brulejr/autohome/internal/broker"
)

// listenOptions configures a stand-alone subscriber.
type listenOptions struct {
	Endpoint  broker.Endpoint
	Separator string
	Filter    string
	Count     int
}

func newListenCmd() *cobra.Command {
	var (
		ep   endpointFlags
		opts listenOptions
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print messages received from a bus endpoint",
		Long: `Print messages received from a bus endpoint.

With --filter, messages are decoded with the default registry and printed
as "[typed] TYPE JSON"; messages of unregistered types are reported and
skipped. Without a filter every message is printed as "[raw] TEXT".`,
		Example: `  autohome listen --address tcp://127.0.0.1:5564
  autohome listen --address tcp://127.0.0.1:5564 --filter Message --count 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, err := ep.endpoint()
			if err != nil {
				return err
			}
			opts.Endpoint = endpoint
			opts.Separator = ep.separator
			return listenMessages(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	ep.register(cmd)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "subscription prefix; empty receives everything as raw text")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many messages (0 = run until interrupted)")
	return cmd
}

// listenMessages subscribes on opts.Endpoint and writes one line per
// message to out. It returns nil when ctx is cancelled.
func listenMessages(ctx context.Context, opts listenOptions, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := zmq4.NewSub(ctx, dialOptions()...)
	defer sub.Close()

	if err := opts.Endpoint.Apply(sub); err != nil {
		return fmt.Errorf("%s: %w", opts.Endpoint, err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, opts.Filter); err != nil {
		return fmt.Errorf("subscribe %q: %w", opts.Filter, err)
	}

	codec := broker.Codec{Separator: opts.Separator, Registry: broker.DefaultRegistry()}
	structured := opts.Filter != ""

	for n := 0; opts.Count <= 0 || n < opts.Count; {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		value, err := codec.Unpack(string(bytes.Join(msg.Frames, nil)), structured)
		if err != nil {
			fmt.Fprintf(out, "[error] %v\n", err)
			continue
		}
		if err := printMessage(out, value); err != nil {
			return err
		}
		n++
	}
	return nil
}

func printMessage(out io.Writer, value any) error {
	if s, ok := value.(string); ok {
		_, err := fmt.Fprintf(out, "[raw] %s\n", s)
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", value, err)
	}
	name := fmt.Sprintf("%T", value)
	if env, ok := value.(broker.Envelope); ok && env.MessageType() != "" {
		name = env.MessageType()
	}
	_, err = fmt.Fprintf(out, "[typed] %s %s\n", name, data)
	return err
}
