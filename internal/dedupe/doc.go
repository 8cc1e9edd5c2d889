// Package dedupe suppresses redelivered channel events by remembering
// recently handled event IDs for a bounded window.
package dedupe
