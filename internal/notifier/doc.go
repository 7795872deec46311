// Package notifier forwards recording events to an operator chat.
//
// Messages go through a bounded queue drained by a small worker pool with a
// token-bucket rate limit and jittered retries. Repeated messages with the
// same key are suppressed for a dedup window; with a store configured the
// suppression survives restarts, so a task that fails to start every tick
// does not flood the chat.
//
// # Transport
//
// Delivery is delegated to a transport.Sender (the Telegram sender in
// production, a recorder in tests).
package notifier
