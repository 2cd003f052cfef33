// Package fanout implements the broadcast fan-out engine.
//
// One channel post in the configured source chat triggers one job. The
// engine freezes a snapshot of the recipient directory, dispatches one
// copy operation per recipient concurrently, and waits for every
// operation to resolve before reporting. A single recipient failing
// (blocked bot, deleted chat, transport fault) never cancels or poisons
// the sibling operations; it is counted and the job carries on.
//
// Delivery semantics
//
// The engine is at-least-once with respect to its trigger: a redelivered
// source message causes a full duplicate fan-out, since the platform
// offers no idempotence key for it. Recipients added to the directory
// after the snapshot is taken are excluded from the in-flight job.
//
// The final report (total, successful, failed, elapsed) goes to the
// reporting sink as best-effort telemetry; a report that cannot be sent
// is logged and dropped without failing the job.
package fanout
