// Package domain holds the message shapes shared by the hub, the relay,
// the producer and the client socket.
//
// Two wire formats live here:
//   - Envelope: the {type, payload} unit exchanged over WebSocket connections
//   - QueueEvent: the JSON body published to the fanout exchange
//
// ActivityEntry is the durable projection of a QueueEvent written by the relay.
package domain
