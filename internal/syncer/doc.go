// Package syncer provides the coordinator that keeps two devices' event
// logs consistent.
//
// # Overview
//
// The coordinator is the only component that decides what to send, when
// to send it, and how to merge incoming state without resurrecting
// deleted records. Everything else (the edit flow, the store, the
// transport link) is a producer or consumer of its work:
//
//	local edit flow ──┐
//	inbound envelope ─┼──> run loop ──> store / tombstone registry
//	periodic poll ────┘        │
//	                           └──────> status signal ──> UI / CLI
//
// # Delivery policy
//
// Outbound envelopes prefer the durable context channel, which accepts a
// write even while the peer is unreachable but only guarantees delivery
// of the most recent one. If the durable write fails outright, the
// coordinator falls back to the transient message channel, which requires
// live reachability but acknowledges with a reply. Because the durable
// channel drops intermediate writes, the primary device re-sends the most
// recent unacknowledged snapshot on a fixed poll interval until a sync
// completes.
//
// Pairing loss is only observed by that primary-side poll. A companion
// has no periodic check of its own, so its status keeps reporting the
// last known state until one of its own sends or merges fails.
//
// # Merge policy
//
// Merging is all-or-nothing per envelope: announced deletions and event
// upserts run inside one store transaction. Tombstones always win over
// inbound snapshots, so a deleted event can never be revived by a stale
// copy. Surviving conflicts resolve by last-writer-wins on the envelope's
// sync timestamp against the local record's last-modified time.
//
// Last-writer-wins operates on whole records, not fields: concurrent
// edits to different fields of the same event on each device lose one
// side's change. This is a deliberate, known weakness of the protocol.
//
// # Failure policy
//
// No failure in this subsystem propagates to the hosting application.
// Every outcome is rendered as a status value; syncing is never left as
// the final state of an operation.
package syncer
