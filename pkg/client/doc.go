// Package client keeps one logical connection to the hub over a series of
// physical WebSocket sessions.
//
// A Socket moves through connecting, connected, disconnected, reconnecting
// and failed. After an unexpected close it waits BaseDelay*n before attempt
// n and gives up after MaxAttempts consecutive failures. Incoming envelopes
// are dispatched by type to listeners registered with On.
//
// Time and transport are injected through Clock and Dialer so the state
// machine can be driven deterministically in tests.
package client
