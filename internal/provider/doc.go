// Package provider normalizes inbound speech-to-text provider messages.
// Providers differ in field names and finality signaling; everything is
// reduced to one Event shape before it reaches the rest of the pipeline.
package provider
