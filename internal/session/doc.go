// Package session orchestrates one recording session end to end: it owns
// the backend and provider socket channels, the capture engine, the chunk
// upload queue, and session identity, and it runs the bounded flush
// handshake that protects the trailing seconds of audio at stop time.
package session
