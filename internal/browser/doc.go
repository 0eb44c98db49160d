// Package browser is a stand-in for the browser extension: an in-memory set of
// tabs and groups that answers the same actions with the same result shapes, and
// a Serve loop that speaks the extension's side of the native messaging channel.
package browser
