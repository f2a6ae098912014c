package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brulejr/autohome/internal/api"
	"github.com/brulejr/autohome/internal/bridge"
	"github.com/brulejr/autohome/internal/broker"
	"github.com/brulejr/autohome/internal/eventbus"
	"github.com/brulejr/autohome/internal/infrastructure/config"
	"github.com/brulejr/autohome/internal/infrastructure/influxdb"
	"github.com/brulejr/autohome/internal/infrastructure/logging"
	"github.com/brulejr/autohome/internal/infrastructure/mqtt"
	"github.com/brulejr/autohome/internal/metrics"
	"github.com/brulejr/autohome/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bus relay",
		Long: `Run the bus relay for this node.

The relay is supervised and restarted with backoff when its receive loop
fails. The MQTT bridge, InfluxDB reporter and HTTP API start when enabled
in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancels on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			flagPath, _ := cmd.Flags().GetString("config")
			return run(ctx, getConfigPath(flagPath))
		},
	}
}

// run is the actual application logic, separated from the command for
// testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Startup sequence: each optional component adds a branch
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting autohome",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version, cfg.Node.ID)
	log.Info("configuration loaded",
		"path", configPath,
		"role", cfg.Broker.Role.String(),
		"level", cfg.Logging.Level,
	)

	bus := eventbus.New()
	bus.SetLogger(log.Component("eventbus"))

	relay, err := broker.New(broker.Options{
		Config:          cfg.Broker,
		Bus:             bus,
		Logger:          log.Component("broker"),
		TransportLogger: log.Component("zmq").StdLogger(slog.LevelDebug),
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	sup := supervisor.New(relay, relaySupervisorConfig(cfg.Supervisor, log))
	sup.SetLogger(log.Component("supervisor"))
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	defer func() {
		log.Info("stopping relay")
		if stopErr := sup.Stop(); stopErr != nil {
			log.Error("error stopping relay", "error", stopErr)
		}
	}()

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Node:       cfg.Node.ID,
		Relay:      relay,
		Bus:        bus,
		Supervisor: sup,
		Version:    version,
	}

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		mqttLog := log.Component("mqtt")
		mqttClient, connErr := mqtt.Connect(cfg.MQTT, cfg.Node.ID, mqtt.Hooks{
			Logger: mqttLog,
			OnConnect: func(reconnect bool) {
				if reconnect {
					mqttLog.Info("MQTT reconnected")
				}
			},
		})
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		deps.MQTT = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)

		if cfg.MQTT.Bridge.Enabled {
			br, bridgeErr := bridge.New(bridge.Options{
				Bus:        bus,
				Relay:      relay,
				MQTTClient: mqttClient,
				Logger:     log.Component("bridge"),
			})
			if bridgeErr != nil {
				return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
			}
			if startErr := br.Start(ctx); startErr != nil {
				return fmt.Errorf("starting MQTT bridge: %w", startErr)
			}
			defer func() {
				log.Info("stopping MQTT bridge")
				br.Stop()
			}()
			deps.Bridge = br
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxLog := log.Component("influxdb")
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Tags{
			Node: cfg.Node.ID,
			Role: cfg.Broker.Role.String(),
		}, func(err error) {
			influxLog.Error("relay stats batch rejected", "error", err)
		})
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "write_errors", influxClient.WriteErrors())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		deps.InfluxDB = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		reporter := influxdb.NewReporter(influxClient,
			time.Duration(cfg.InfluxDB.ReportInterval)*time.Second, relayStats(relay, sup))
		reporterCtx, stopReporter := context.WithCancel(ctx)
		reporterDone := make(chan struct{})
		go func() {
			defer close(reporterDone)
			reporter.Run(reporterCtx)
		}()
		// Runs before the client is closed so the final sample is flushed.
		defer func() {
			stopReporter()
			<-reporterDone
		}()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-sup.Done():
		// Supervision also ends when ctx is cancelled; otherwise it gave up.
		if ctx.Err() == nil {
			return fmt.Errorf("relay supervisor gave up: %v", sup.LastError())
		}
		log.Info("shutdown signal received, cleaning up")
	}

	// Deferred calls run in reverse order: API, InfluxDB, MQTT bridge,
	// MQTT, relay.
	log.Info("autohome stopped")
	return nil
}

// relaySupervisorConfig wires restart metrics and logging into the
// supervisor settings. A configuration error is never retried.
func relaySupervisorConfig(cfg config.SupervisorConfig, log *logging.Logger) supervisor.Config {
	sc := supervisor.FromConfig("relay", cfg)
	sc.Recoverable = relayRecoverable
	sc.OnRestart = func(attempt int) {
		metrics.RelayRestarts.Inc()
		log.Warn("restarting relay", "attempt", attempt)
	}
	sc.OnStop = func(err error) {
		if err != nil {
			log.Error("relay stopped unexpectedly", "error", err)
		}
	}
	return sc
}

func relayRecoverable(err error) bool {
	if errors.Is(err, broker.ErrInvalidConfig) {
		return false
	}
	return supervisor.IsRecoverable(err)
}

// statsSource is the part of *broker.Service the reporter samples.
type statsSource interface {
	Stats() broker.Stats
}

// restartCounter is the part of *supervisor.Supervisor the reporter samples.
type restartCounter interface {
	RestartCount() int
}

// relayStats adapts relay and supervisor counters to an InfluxDB sample.
func relayStats(relay statsSource, sup restartCounter) influxdb.StatsFunc {
	return func() influxdb.RelayStats {
		st := relay.Stats()
		return influxdb.RelayStats{
			Received:      st.Received,
			Typed:         st.Typed,
			Raw:           st.Raw,
			Published:     st.Published,
			DecodeErrors:  st.DecodeErrors,
			PublishErrors: st.PublishErrors,
			Restarts:      sup.RestartCount(),
			Running:       st.State == broker.StateRunning,
		}
	}
}
