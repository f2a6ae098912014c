// Package bridge connects the relay to MQTT.
//
// In one direction every message the relay delivers to the local event bus
// is mirrored to {prefix}/{node}/inbound/{kind} as JSON, where kind is
// "typed" or "raw". In the other, a message published to
// {prefix}/{node}/outbound/{topic} is sent onto the relay bus:
//
//	outbound/home   {"value":1}   ->  home|{"value":1}
//	outbound/home   lights on     ->  lights on          (not JSON: raw text)
//	outbound        ping          ->  ping               (no topic: raw text)
//
// Mirroring runs on its own goroutine behind a bounded queue so a slow MQTT
// broker never stalls the relay's receive loop. When the queue is full the
// message is dropped and counted.
package bridge
