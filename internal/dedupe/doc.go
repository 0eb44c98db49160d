// Package dedupe provides a time-windowed seen-set. The relay uses it to drop a
// second reply for a frame id it has already published.
package dedupe
