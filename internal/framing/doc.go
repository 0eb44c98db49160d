// Package framing implements the browser native messaging wire format: each
// message is a 4-byte length in native byte order followed by that many bytes
// of UTF-8 JSON.
//
// The outbound side (Writer) is straightforward. The inbound side never blocks:
// a Source hands over whatever bytes have arrived, and Reader.TryReceive turns
// them into at most one Message per call. In ModeReassemble a frame that arrives
// in pieces is kept until complete. ModeDropPartial reproduces the original
// host, which discarded any frame it could not read in one attempt.
package framing
