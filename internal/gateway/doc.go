// Package gateway receives webhook deliveries over HTTP and feeds them to the
// router through bounded per-chat queues.
//
// The HTTP response never waits for processing: a valid, malformed or
// dropped delivery is acknowledged with 200 "ok" so the platform does not
// redeliver it. Updates from one chat always land on the same queue and are
// processed in arrival order; different chats are processed concurrently.
package gateway
