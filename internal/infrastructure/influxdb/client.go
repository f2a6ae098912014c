package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

const (
	connectPingTimeout = 10 * time.Second
	healthPingTimeout  = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Tags identify the relay node every point is written for.
type Tags struct {
	Node string
	Role string
}

// Client is the sink for one node's relay statistics.
//
// Writes are non-blocking and batched by the InfluxDB library. All methods
// are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	tags     Tags

	// onWriteError is fixed at Connect; nil drops rejected batches silently.
	onWriteError func(err error)
	writeErrors  atomic.Uint64
	open         atomic.Bool
}

// Connect pings the server and opens a batched write API on the configured
// bucket. Every point written through the returned client carries tags.
// Batches the server later rejects are counted and passed to onWriteError
// wrapped in ErrWriteFailed.
//
// Returns ErrDisabled, or ErrConnectionFailed if the ping fails within ctx
// and the connect timeout.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, tags Tags, onWriteError func(error)) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	if err := ping(ctx, client, connectPingTimeout); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:       client,
		writeAPI:     client.WriteAPI(cfg.Org, cfg.Bucket),
		tags:         tags,
		onWriteError: onWriteError,
	}
	c.open.Store(true)
	go c.drainWriteErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	switch {
	case err != nil:
		return err
	case !healthy:
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

// writeOptions applies batch size and flush interval, falling back to the
// defaults for unset values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// drainWriteErrors runs until the write API closes errs.
func (c *Client) drainWriteErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrors.Add(1)
		if c.onWriteError != nil {
			c.onWriteError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// WriteErrors returns how many batches the server rejected.
func (c *Client) WriteErrors() uint64 {
	return c.writeErrors.Load()
}

// Close flushes buffered points and releases the client. Writes after Close
// are dropped and a second Close does nothing.
func (c *Client) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client, healthPingTimeout); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the sink is open. It does not ping; use
// HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}
