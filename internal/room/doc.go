// Package room implements per-conversation broadcast actors and the
// deterministic identity scheme that routes connections onto them.
//
// # Room identity
//
// Resolve maps (tenant, kind, conversation, subject) to a canonical Key:
//
//	tenant:{tenant}:group:{group}
//	tenant:{tenant}:direct:{a}:{b}   (participants sorted lexicographically)
//
// Both participants of a direct conversation always resolve to the same key
// regardless of who initiates. Keys are recomputed on every connection
// attempt and never persisted.
//
// # Actors
//
// The Registry holds one Room actor per live key. Each actor is a single
// goroutine owning its session map; admits, evicts, publishes, and presence
// queries are serialized through an unbuffered mailbox, so no locks exist
// inside a room. Rooms are created lazily on first admission and remove
// themselves from the registry the moment their session map empties.
//
// # Fan-out
//
// Publish delivers an Envelope to every session except the originator's;
// server-originated publishes (empty originator) reach all sessions. Each
// session has a buffered write pump: a slow peer loses envelopes rather
// than stalling the room, and a failed write evicts that one session
// without aborting the rest of the fan-out.
//
// The actor relays client control envelopes (typing-start, typing-stop,
// message-read) after stamping the verified sender id, and never relays a
// client-sent new-message: those enter a room only through server-side
// Publish calls made after the message has been durably persisted.
package room
