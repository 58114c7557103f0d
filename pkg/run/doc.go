// Package run executes one user request end to end: it guards against
// concurrent tasks per conversation, obtains a live session, and streams the
// reply into a single outbound message through throttled, idempotent edits.
package run
