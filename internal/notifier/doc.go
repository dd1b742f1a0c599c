// Package notifier publishes reports and alerts to operators.
//
// Notify never blocks the caller: messages are queued, rate limited,
// deduplicated inside a window and retried by a small worker pool, then fanned
// out to every configured transport. A full queue drops the message and
// counts the drop.
//
// Dedup windows can be persisted to storage so a restart does not resend the
// same alert.
package notifier
