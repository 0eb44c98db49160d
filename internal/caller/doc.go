// Package caller is the blocking, deadline-bounded side of the mailbox protocol.
// Invoke posts one command and polls the result mailbox for a reply that is
// strictly newer than the command and, when both carry one, has the same
// request id.
package caller
