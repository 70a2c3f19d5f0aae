// Package bridge relays containers between a msgline session and an AMQP
// exchange.
//
// Outbound, every container the client receives is published with the
// message type as routing key. Inbound, deliveries from a queue are decoded
// and written to the session. The routing header travels both in the encoded
// body and as AMQP headers so brokers can route on it:
//
//	ch, _ := conns.Channel()
//	relay := bridge.NewRelay(ch, "msgline", bridge.WithLogger(logger))
//	err := relay.Attach(ctx, client, "msgline.inbox")
package bridge
