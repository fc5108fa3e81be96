// ABOUTME: Session is one admitted live connection from one subject into one room
// ABOUTME: Owns the outbound write pump; a write failure evicts the session

package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stingtao/chat/internal/metrics"
)

// writeTimeout bounds a single transport write so one stuck peer cannot
// pin the session's write pump forever.
const writeTimeout = 10 * time.Second

// Transport is the outbound half of an admitted connection. Implemented by
// the websocket wrapper in the gateway and by in-memory fakes in tests.
type Transport interface {
	// Write delivers one serialized envelope to the peer.
	Write(ctx context.Context, data []byte) error
	// Close tears down the connection with a human-readable reason.
	Close(reason string) error
}

// Session is created by a room on admission and destroyed on eviction.
// It is owned exclusively by that room for its lifetime.
type Session struct {
	subject   string
	key       Key
	transport Transport

	room *Room
	out  chan *Envelope

	evictOnce sync.Once
}

// Subject returns the subject id this session belongs to.
func (s *Session) Subject() string { return s.subject }

// Key returns the room key this session is admitted to.
func (s *Session) Key() Key { return s.key }

// Evict removes this exact session from its room and broadcasts user-offline
// to the remaining sessions. Safe to call multiple times and after the
// session has already been replaced by a newer admission.
func (s *Session) Evict() {
	s.evictOnce.Do(func() {
		s.room.enqueue(command{op: opEvictSession, session: s})
	})
}

// deliver hands an envelope to the session's write pump without blocking.
// A full buffer means the peer is not keeping up; the envelope is dropped
// for this session only.
func (s *Session) deliver(env *Envelope) bool {
	select {
	case s.out <- env:
		return true
	default:
		metrics.EnvelopesDropped.Inc()
		return false
	}
}

// writePump serializes envelopes to the transport. On write error it evicts
// the session; the remaining fan-out in the room is unaffected.
func (s *Session) writePump() {
	for env := range s.out {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = s.transport.Write(ctx, data)
		cancel()
		if err != nil {
			s.Evict()
			// Drain until the room closes the channel so fan-out
			// never blocks on a dead session.
			for range s.out {
			}
			return
		}
	}
}
