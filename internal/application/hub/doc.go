// Package hub maintains the set of live client connections and fans
// envelopes out to them.
//
// The hub is transport agnostic: a transport calls Open when it accepts a
// peer, Receive for every inbound frame, and Close or Fail when the peer
// goes away. Outbound frames are queued on each Connection and written by
// the transport, so one slow peer never delays delivery to the others.
package hub
