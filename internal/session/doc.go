// Package session owns the mapping from conversation keys to live backend
// agent sessions.
//
// # Registry
//
// The Registry is the only shared table in the process. It is guarded by a
// table-level mutex for insert/remove/lookup, plus one creation mutex per
// key so that two racing messages for a brand-new conversation open exactly
// one backend connection:
//
//	reg := session.NewRegistry(cfg, opener, settingsStore, logger)
//	rec, err := reg.GetOrCreate(ctx, key)
//
// Creation reads the durable settings mapping for the key; a stored backend
// session id is passed to the opener as a resume token. A rejected token is
// cleared and the open retried fresh, so a stale mapping never wedges the
// conversation. A failed open never inserts a record.
//
// # Record
//
// A Record wraps one exclusively owned backend connection and walks the
// lifecycle
//
//	Creating → Idle ⇄ Busy → Closing → Closed
//
// Idle→Busy happens when a turn starts; only that transition may start a
// receiver loop, which is how the single-reader invariant is enforced
// structurally rather than detected at runtime. Messages arriving while
// Busy queue in per-record FIFO order.
//
// # Sweeping
//
// Sweep destroys records idle past a threshold. It is single-flight: a
// sweep that is still running causes the next tick to be skipped. The
// sweeper is the only component allowed to destroy sessions without an
// explicit user action.
package session
