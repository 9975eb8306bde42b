// Package capture implements the audio capture engine. It owns an
// exclusive capture source, normalizes every sample block to canonical
// 16 kHz mono 16-bit PCM, and hands each frame to a single callback in
// production order.
package capture
