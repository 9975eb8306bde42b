// Package uploader persists raw audio chunks to backend storage over
// HTTP. Uploads run strictly in enqueue order, one in flight at a time,
// and failures are logged and swallowed so a bad upload never stalls the
// audio stream.
package uploader
