// ABOUTME: Registry of live room actors keyed by canonical room key
// ABOUTME: Creates rooms lazily on admission; rooms remove themselves when empty

package room

import (
	"log/slog"
	"strings"
	"sync"
)

// Registry tracks every live room actor. The mutex guards only the
// top-level map; per-room state is owned by each room's goroutine.
type Registry struct {
	mu    sync.Mutex
	rooms map[Key]*Room

	buffer int
	logger *slog.Logger
}

// NewRegistry creates a registry. sessionBuffer sets the per-session
// outbound channel depth; pass 0 for the default. Pass nil logger for the
// process default.
func NewRegistry(sessionBuffer int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[Key]*Room),
		buffer: sessionBuffer,
		logger: logger.With("component", "rooms"),
	}
}

// Admit places a subject's connection into the room for key, creating the
// actor if it does not yet exist. A prior session for the same subject in
// the same room is silently replaced.
func (reg *Registry) Admit(key Key, subject string, transport Transport) *Session {
	for {
		r := reg.obtain(key)
		admitted := make(chan *Session, 1)
		if r.enqueue(command{op: opAdmit, subject: subject, transport: transport, admitted: admitted}) {
			return <-admitted
		}
		// The room shut down between lookup and enqueue; resolve a
		// fresh actor and try again.
	}
}

// Publish fans an envelope out to the room for key, skipping the
// originator's session. An empty originator is a server-originated publish
// and reaches every session. Publishing to a room with no live sessions is
// a no-op; rooms are never created for publishes.
func (reg *Registry) Publish(key Key, env *Envelope, originator string) {
	reg.mu.Lock()
	r := reg.rooms[key]
	reg.mu.Unlock()
	if r == nil {
		return
	}
	r.enqueue(command{op: opPublish, envelope: env, originator: originator})
}

// Evict removes the current session for subject from the room for key, if
// one exists, broadcasting user-offline to the remainder.
func (reg *Registry) Evict(key Key, subject string) {
	reg.mu.Lock()
	r := reg.rooms[key]
	reg.mu.Unlock()
	if r == nil {
		return
	}
	r.enqueue(command{op: opEvictSubject, subject: subject})
}

// Relay republishes a client-originated control envelope (typing-start,
// typing-stop, message-read) to the subject's room, stamping the verified
// sender id over whatever the client claimed. Envelopes of any other kind
// are dropped; in particular a client-sent new-message never reaches the
// room this way.
func (reg *Registry) Relay(key Key, env *Envelope, subject string) {
	if !env.Kind.relayable() {
		return
	}
	stamped, err := env.StampSender(subject)
	if err != nil {
		reg.logger.Debug("dropping malformed relay envelope",
			"room", string(key),
			"kind", string(env.Kind),
			"error", err)
		return
	}
	reg.Publish(key, stamped, subject)
}

// NotifySubject delivers an envelope to every live session the subject
// holds across the tenant's rooms. Used for events that are not scoped to
// one conversation, like friendship transitions, where the relevant room
// may not admit the subject yet. A subject with no live session receives
// nothing; the offline-push path covers that case.
func (reg *Registry) NotifySubject(tenantID, subject string, env *Envelope) {
	prefix := "tenant:" + tenantID + ":"

	reg.mu.Lock()
	targets := make([]*Room, 0, len(reg.rooms))
	for key, r := range reg.rooms {
		if strings.HasPrefix(string(key), prefix) {
			targets = append(targets, r)
		}
	}
	reg.mu.Unlock()

	for _, r := range targets {
		r.enqueue(command{op: opNotify, subject: subject, envelope: env})
	}
}

// Present returns the subjects with a live session in the room for key.
// Presence is derived entirely from the live registry; there is no
// separate presence store.
func (reg *Registry) Present(key Key) []string {
	reg.mu.Lock()
	r := reg.rooms[key]
	reg.mu.Unlock()
	if r == nil {
		return nil
	}
	reply := make(chan []string, 1)
	if !r.enqueue(command{op: opPresent, present: reply}) {
		return nil
	}
	return <-reply
}

// Len reports the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// obtain returns the live room for key, creating and starting one if needed.
func (reg *Registry) obtain(key Key) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[key]; ok {
		return r
	}
	r := newRoom(key, reg, reg.buffer, reg.logger)
	reg.rooms[key] = r
	go r.run()
	reg.logger.Debug("room created", "room", string(key))
	return r
}

// remove deletes the registry entry for key if it still points at r.
// Called by the room's own goroutine as part of teardown.
func (reg *Registry) remove(key Key, r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rooms[key] == r {
		delete(reg.rooms, key)
	}
}
