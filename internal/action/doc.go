// Package action lists the commands the browser extension accepts and checks
// their payloads against JSON Schemas before they are posted to the mailbox.
package action
