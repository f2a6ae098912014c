// Package logging provides structured logging for autohome nodes on top of
// log/slog.
//
// Entries are JSON (default) or text, filtered by level, and carry service,
// version and node. Subsystems take a child logger per component:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
//	log := logging.New(cfg.Logging, version, cfg.Node.ID)
//	relayLog := log.Component("broker")
//	zmqLog := log.Component("zmq").StdLogger(slog.LevelDebug)
//
// Never log secrets such as the InfluxDB token or MQTT password.
package logging
