// Package eventbus is the in-process publish/subscribe hub that inbound
// relay messages are delivered to.
//
// Handlers subscribe by payload type. A message decoded as a registered
// type reaches handlers subscribed for that type; an undecoded message is a
// string and reaches string handlers. SubscribeAll sees everything.
//
// Delivery is synchronous on the publisher's goroutine, in subscription
// order. A panicking handler is recovered and logged; the remaining
// handlers still run.
//
//	bus := eventbus.New()
//	unsubscribe := eventbus.Subscribe(bus, func(ev HomeEvent) {
//	    fmt.Println(ev.Value)
//	})
//	defer unsubscribe()
package eventbus
