// Package broadcast fans a text message out to a fixed list of recipients.
//
// A run is sequential and best-effort: one attempt per recipient, no retry.
// A failure (error or panic) for one recipient is recorded in the Report and
// never stops delivery to the rest.
package broadcast
