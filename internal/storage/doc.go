// Package storage persists the recording history.
//
// It supports:
//   - Event appends (recordings started/stopped/failed, device outages)
//   - Recent-event queries for the -history flag
//   - Notifier dedup state, so repeated alerts stay quiet across restarts
package storage
