// Package dispatch decodes inbound backend messages and routes them to
// typed callbacks by their type field. Unknown types are ignored so the
// client stays forward compatible, and malformed frames are dropped
// without ever taking the channel down.
package dispatch
