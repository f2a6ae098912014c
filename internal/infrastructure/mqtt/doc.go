// Package mqtt is the relay's MQTT side channel.
//
// A relay node mirrors every bus delivery to {prefix}/{node}/inbound/{kind}
// and injects messages published under {prefix}/{node}/outbound/ back onto
// the ZeroMQ bus, so dashboards and scripts that do not speak ZeroMQ can
// take part:
//
//	ZeroMQ bus <-> relay node <-> MQTT broker <-> dashboards, scripts
//
// The client keeps a retained online/offline status on {prefix}/{node}/status,
// backed by a Last Will so a crashed node is reported offline. Paho handles
// reconnection; the outbound subscription is replayed on every reconnect.
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Node.ID, mqtt.Hooks{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeOutbound(func(relayTopic string, payload []byte) error {
//	    return relay.Publish(relayTopic, broker.RawJSON(payload))
//	})
package mqtt
