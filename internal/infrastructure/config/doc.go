// Package config loads an autohome node's YAML configuration.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file, and AUTOHOME_* environment variables. Credentials (the MQTT
// password, the InfluxDB token) are best supplied through the environment.
//
// The broker section is the part every node must fill in: its role
// (master or coordinator), the two ZeroMQ endpoints, and the optional
// topic filter. An unknown role is rejected while parsing, so a
// misconfigured node never gets as far as opening a socket. The bus itself
// is unauthenticated; bind master endpoints to trusted networks only.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	relay, err := broker.New(broker.Options{Config: cfg.Broker, Bus: bus})
package config
