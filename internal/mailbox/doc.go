// Package mailbox holds the two single-slot mailboxes that connect the caller and
// the relay: one command travelling toward the extension, one result travelling back.
//
// # Files
//
// CommandFile and ResultFile keep each slot in a JSON file at a well-known path.
// Writers stage the record in a temp file and rename it into place. Readers claim
// a record by renaming it to a private name before reading, so a record is
// consumed at most once even with several readers polling.
//
// # Busy slot
//
// Under PolicyReject a Post into an occupied slot fails with ErrBusy unless the
// occupant is stale or unreadable, in which case it is evicted. PolicyOverwrite
// replaces the occupant unconditionally and the replaced command is lost.
//
// # Matching results
//
// A waiting caller describes the result it will accept with a Query: strictly
// newer than its own issue time, and carrying its request id when the result has
// one. Results a Query rejects are left in place for whoever they belong to.
//
// Memory implements the same slots in process for tests and single-binary wiring.
package mailbox
