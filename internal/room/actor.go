// ABOUTME: Room actor owning the live session registry for one room key
// ABOUTME: One goroutine per room serializes all admits, evicts, and fan-out

package room

import (
	"log/slog"

	"github.com/stingtao/chat/internal/metrics"
)

// sessionBuffer is the outbound channel depth for each session's write pump.
const defaultSessionBuffer = 64

type opcode int

const (
	opAdmit opcode = iota
	opEvictSubject
	opEvictSession
	opPublish
	opNotify
	opPresent
)

type command struct {
	op         opcode
	subject    string
	transport  Transport
	session    *Session
	envelope   *Envelope
	originator string
	admitted   chan *Session
	present    chan []string
}

// Room is the broadcast actor for one key. All state below is touched only
// by the run goroutine; external callers communicate through the mailbox.
type Room struct {
	key      Key
	registry *Registry

	mailbox chan command
	done    chan struct{}

	sessions map[string]*Session
	buffer   int
	logger   *slog.Logger
}

func newRoom(key Key, reg *Registry, buffer int, logger *slog.Logger) *Room {
	if buffer <= 0 {
		buffer = defaultSessionBuffer
	}
	return &Room{
		key:      key,
		registry: reg,
		mailbox:  make(chan command),
		done:     make(chan struct{}),
		sessions: make(map[string]*Session),
		buffer:   buffer,
		logger:   logger.With("room", string(key)),
	}
}

// enqueue submits a command to the actor. Returns false if the room has
// already shut down; callers holding a stale handle must re-resolve it
// through the registry.
func (r *Room) enqueue(cmd command) bool {
	select {
	case r.mailbox <- cmd:
		return true
	case <-r.done:
		return false
	}
}

// run is the actor loop. It exits, after removing the room from the
// registry, as soon as the session registry becomes empty. Recreating the
// room later is indistinguishable from the first creation.
func (r *Room) run() {
	metrics.RoomsActive.Inc()
	defer metrics.RoomsActive.Dec()

	for {
		cmd := <-r.mailbox
		r.handle(cmd)

		if cmd.op != opAdmit && len(r.sessions) == 0 {
			r.registry.remove(r.key, r)
			close(r.done)
			r.logger.Debug("room torn down")
			return
		}
	}
}

func (r *Room) handle(cmd command) {
	switch cmd.op {
	case opAdmit:
		cmd.admitted <- r.admit(cmd.subject, cmd.transport)

	case opEvictSubject:
		if sess, ok := r.sessions[cmd.subject]; ok {
			r.evict(sess)
		}

	case opEvictSession:
		// Evict only if this exact session is still registered; a newer
		// admission for the same subject must not be torn down by the
		// old connection's death.
		if r.sessions[cmd.session.subject] == cmd.session {
			r.evict(cmd.session)
		}

	case opPublish:
		r.broadcast(cmd.envelope, cmd.originator)

	case opNotify:
		// Targets one subject's session only; other occupants never see it.
		if sess, ok := r.sessions[cmd.subject]; ok {
			sess.deliver(cmd.envelope)
		}

	case opPresent:
		subjects := make([]string, 0, len(r.sessions))
		for subject := range r.sessions {
			subjects = append(subjects, subject)
		}
		cmd.present <- subjects
	}
}

// admit inserts or replaces the session for a subject. The replaced
// connection is closed silently: the subject never left, so no presence
// transition is broadcast. The new session does not observe its own
// user-online.
func (r *Room) admit(subject string, transport Transport) *Session {
	if prev, ok := r.sessions[subject]; ok {
		delete(r.sessions, subject)
		close(prev.out)
		_ = prev.transport.Close("replaced by newer connection")
		metrics.SessionsActive.Dec()
	}

	sess := &Session{
		subject:   subject,
		key:       r.key,
		transport: transport,
		room:      r,
		out:       make(chan *Envelope, r.buffer),
	}
	r.sessions[subject] = sess
	go sess.writePump()
	metrics.SessionsActive.Inc()

	r.broadcast(presenceEnvelope(KindUserOnline, subject), subject)

	r.logger.Debug("session admitted",
		"subject", subject,
		"sessions", len(r.sessions))
	return sess
}

// evict removes a session and announces user-offline to the remainder.
func (r *Room) evict(sess *Session) {
	delete(r.sessions, sess.subject)
	close(sess.out)
	_ = sess.transport.Close("evicted")
	metrics.SessionsActive.Dec()

	r.broadcast(presenceEnvelope(KindUserOffline, sess.subject), sess.subject)

	r.logger.Debug("session evicted",
		"subject", sess.subject,
		"sessions", len(r.sessions))
}

// broadcast fans an envelope out to every session except the originator's.
// An empty originator means a server-originated publish, which reaches all
// sessions unconditionally. Delivery is best-effort per recipient.
func (r *Room) broadcast(env *Envelope, originator string) {
	for subject, sess := range r.sessions {
		if originator != "" && subject == originator {
			continue
		}
		sess.deliver(env)
	}
	metrics.EnvelopesBroadcast.WithLabelValues(string(env.Kind)).Inc()
}
