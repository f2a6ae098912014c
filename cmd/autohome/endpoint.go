package main

import (
	"errors"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"

	"github.com/brulejr/autohome/internal/broker"
	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// endpointFlags are shared by the send and listen commands.
type endpointFlags struct {
	address   string
	bind      bool
	separator string
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "ZeroMQ endpoint, e.g. tcp://127.0.0.1:5563 (required)")
	cmd.Flags().BoolVar(&f.bind, "bind", false, "bind the endpoint instead of connecting to it")
	cmd.Flags().StringVar(&f.separator, "separator", config.DefaultMessageSeparator, "separator between topic and JSON payload")
}

func (f *endpointFlags) endpoint() (broker.Endpoint, error) {
	if f.address == "" {
		return broker.Endpoint{}, errors.New("--address is required")
	}
	mode := broker.ModeConnect
	if f.bind {
		mode = broker.ModeBind
	}
	return broker.Endpoint{Address: f.address, Mode: mode}, nil
}

// dialOptions keep a connecting socket retrying until a peer binds.
func dialOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithDialerRetry(250 * time.Millisecond),
		zmq4.WithDialerTimeout(5 * time.Second),
	}
}
