// Package notify turns check outcomes into live notifications.
//
// # Gate
//
// Gate is the transition filter: it forwards an outcome to the notification
// sink only when the account just went live, and pushes the aggregate
// "any account live" flag to its sinks only when the flag changes.
//
// # Delivery
//
// Service is the NotificationSink used in production: an async pipeline with
// a bounded queue, a worker pool, a shared rate limit, retries with jittered
// exponential backoff and a dedup window that can survive restarts through
// the store. Messages fan out to every configured Sender (log, Telegram,
// webhook).
//
// # History
//
// The service keeps a small in-memory history of delivered notifications for
// /status.
package notify
