// Package websocket provides the live connection transport for the hub.
//
// Clients connect to / or /ws. Every accepted connection is registered with
// the hub; a read pump feeds inbound frames to it and a write pump drains
// the connection's outbound queue.
package websocket
