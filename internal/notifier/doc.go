// Package notifier delivers due alarms to chat.
//
// Deliver is synchronous: the sweeper needs the outcome to log it, and a
// failed occurrence is never re-queued. Within one Deliver call the service
// paces sends with a token bucket, bounds every attempt with a timeout and
// retries transient failures with jittered exponential backoff.
//
// Outcomes are published on the event bus ("alarm.delivered",
// "alarm.failed") and kept in a small in-memory history for status output.
package notifier
