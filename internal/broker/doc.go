// Package broker relays messages between this node and the autohome bus.
//
// The bus is a pair of ZeroMQ PUB/SUB sockets. Outbound messages published
// by this node fan out to every subscriber; inbound messages from any number
// of remote publishers arrive on a single subscriber socket and are posted
// onto the local event bus for application handlers.
//
// # Roles
//
// Exactly one node runs as MASTER and binds both sockets, giving the bus a
// stable rendezvous point. Every other node runs as COORDINATOR and connects
// both sockets to the master:
//
//	master   PUB bind(publisher_address)    SUB bind(subscriber_address)
//	coord.   PUB connect(publisher_address) SUB connect(subscriber_address)
//
// # Wire format
//
//	<topic><separator><json>   typed message (separator defaults to "|")
//	<text>                     raw message, no topic
//
// When a subscriber topic filter is configured the relay runs in structured
// mode: the text before the first separator names a registered message type
// and the JSON after it is decoded into that type. Without a filter every
// message is delivered as its raw string.
//
// # Lifecycle
//
//	STOPPED -> STARTING -> RUNNING -> STOPPING -> STOPPED
//
// Stop cancels the socket context, which unblocks a pending receive, so it
// returns promptly even on a silent bus. A transport error in the receive
// loop is fatal to that run: the service releases its sockets and returns to
// STOPPED with Err() reporting the cause. Restarting is left to a supervisor.
//
// # Usage
//
//	svc, err := broker.New(broker.Options{
//	    Config: cfg.Broker,
//	    Bus:    bus,
//	    Logger: log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Stop()
//
//	err = svc.Publish("Message", "Test #1") // Message|{"payload":"Test #1"}
package broker
