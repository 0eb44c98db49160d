// Package relay implements the native messaging host's main loop.
//
// Each tick the Loop takes at most one fresh command from the command mailbox and
// forwards it to the extension as a framed request whose id is the command's issue
// time in milliseconds. It then makes one non-blocking receive attempt; a reply
// carrying a "result" field is republished to the result mailbox, stamped with the
// current time and, when the reply echoes a known id, with the caller's request id.
//
// Stale and malformed commands are discarded, duplicate replies are dropped, and
// all of it is logged and optionally journaled. Only a broken channel stops the
// loop: a write failure, an inbound frame over the size limit, or the extension
// closing its end (which is a clean stop).
package relay
