// Package socket wraps a websocket connection in a small state machine.
// A channel moves idle -> connecting -> connected and ends in error or
// closed; it is never reconnected. State changes are surfaced through an
// explicit callback so callers never have to infer channel health.
package socket
