// Package upstream provides concrete collaborators for the broadcast pool:
// a TCP connector producing raw transports and a stack builder speaking a
// newline-delimited JSON protocol.
//
// The protocol is deliberately small. After connecting, the builder sends a
// single subscribe request naming the routing key, then treats every
// subsequent line as one broadcast item and pumps it into the handler:
//
//	-> {"subscribe":"url1"}
//	<- {"price":42}
//	<- {"price":43}
//
// Embedding systems with their own wire format implement
// broadcast.Connector and broadcast.StackBuilder instead.
package upstream
