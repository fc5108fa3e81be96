// ABOUTME: Tests for the delivery reconciler
// ABOUTME: Covers push/poll dedupe, authoritative resync, and store failure degradation

package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

// fakePoller serves a swappable newest-first batch.
type fakePoller struct {
	mu    sync.Mutex
	batch []*store.Message
	err   error
	polls int
}

func (p *fakePoller) Poll(context.Context) ([]*store.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]*store.Message, len(p.batch))
	copy(out, p.batch)
	return out, nil
}

func (p *fakePoller) set(batch []*store.Message, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batch = batch
	p.err = err
}

func (p *fakePoller) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func msg(id, content string) *store.Message {
	return &store.Message{
		ID:       id,
		TenantID: "acme",
		SenderID: "u1",
		Content:  content,
		Type:     store.MessageTypeText,
	}
}

func pushEnvelope(t *testing.T, m *store.Message) *room.Envelope {
	t.Helper()
	env, err := room.NewEnvelope(room.KindNewMessage, m)
	require.NoError(t, err)
	return env
}

func fastOptions() Options {
	return Options{
		Interval:    10 * time.Millisecond,
		PollTimeout: time.Second,
	}
}

func ids(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestReconciler_PushAppendsInArrivalOrder(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	poller := &fakePoller{}
	rec := New(push, poller, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	push <- pushEnvelope(t, msg("m1", "first"))
	push <- pushEnvelope(t, msg("m2", "second"))

	require.Eventually(t, func() bool {
		return rec.Cursor() == "m2"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m1", "m2"}, ids(rec.Snapshot()))

	cancel()
	<-done
}

func TestReconciler_MessageSeenByPushAndPollAppearsOnce(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	poller := &fakePoller{}
	// Store already holds m1, newest-first.
	poller.set([]*store.Message{msg("m1", "hello")}, nil)
	rec := New(push, poller, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go rec.Run(ctx)

	push <- pushEnvelope(t, msg("m1", "hello"))

	// Let several polls observe the same id.
	start := poller.pollCount()
	require.Eventually(t, func() bool {
		return poller.pollCount() > start+3
	}, time.Second, 5*time.Millisecond)

	snapshot := rec.Snapshot()
	assert.Equal(t, []string{"m1"}, ids(snapshot), "duplicate delivery must collapse to one")
	assert.Equal(t, "m1", rec.Cursor())
}

func TestReconciler_DuplicatePushSuppressed(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	rec := New(push, &fakePoller{}, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go rec.Run(ctx)

	push <- pushEnvelope(t, msg("m1", "hello"))
	push <- pushEnvelope(t, msg("m1", "hello"))
	push <- pushEnvelope(t, msg("m2", "again"))

	require.Eventually(t, func() bool {
		return rec.Cursor() == "m2"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m1", "m2"}, ids(rec.Snapshot()))
}

func TestReconciler_PollResyncsMissedMessages(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	poller := &fakePoller{}
	rec := New(push, poller, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go rec.Run(ctx)

	push <- pushEnvelope(t, msg("m1", "delivered"))
	require.Eventually(t, func() bool {
		return rec.Cursor() == "m1"
	}, time.Second, 5*time.Millisecond)

	// m2 was dropped on the push path; the store knows better.
	poller.set([]*store.Message{msg("m3", "latest"), msg("m2", "missed"), msg("m1", "delivered")}, nil)

	require.Eventually(t, func() bool {
		return rec.Cursor() == "m3"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(rec.Snapshot()),
		"resync must surface the sequence in store order")
}

func TestReconciler_StoreFailureDegradesToPushOnly(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	poller := &fakePoller{}
	poller.set(nil, errors.New("store unavailable"))
	rec := New(push, poller, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go rec.Run(ctx)

	push <- pushEnvelope(t, msg("m1", "still flowing"))
	require.Eventually(t, func() bool {
		return rec.Cursor() == "m1"
	}, time.Second, 5*time.Millisecond)

	// Polls keep failing; pushed messages remain visible.
	start := poller.pollCount()
	require.Eventually(t, func() bool {
		return poller.pollCount() > start+3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, ids(rec.Snapshot()))

	// The store recovers and the next tick resyncs.
	poller.set([]*store.Message{msg("m2", "recovered"), msg("m1", "still flowing")}, nil)
	require.Eventually(t, func() bool {
		return rec.Cursor() == "m2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, ids(rec.Snapshot()))
}

func TestReconciler_EmptyPollChangesNothing(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	poller := &fakePoller{}
	rec := New(push, poller, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go rec.Run(ctx)

	push <- pushEnvelope(t, msg("m1", "hello"))
	require.Eventually(t, func() bool {
		return rec.Cursor() == "m1"
	}, time.Second, 5*time.Millisecond)

	start := poller.pollCount()
	require.Eventually(t, func() bool {
		return poller.pollCount() > start+3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m1"}, ids(rec.Snapshot()),
		"an empty store batch must not clear pushed messages")
}

func TestReconciler_ChangesSignalCoalesces(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	rec := New(push, &fakePoller{}, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go rec.Run(ctx)

	for i := 0; i < 5; i++ {
		push <- pushEnvelope(t, msg("m"+string(rune('1'+i)), "burst"))
	}

	require.Eventually(t, func() bool {
		return len(rec.Snapshot()) == 5
	}, time.Second, 5*time.Millisecond)

	// An undrained consumer holds at most one pending token.
	<-rec.Changes()
	select {
	case <-rec.Changes():
		// A second token may exist if a change landed after the first
		// drain; more than one extra means signals were not coalesced.
		select {
		case <-rec.Changes():
			t.Fatal("change signals were queued, not coalesced")
		default:
		}
	default:
	}
}

func TestReconciler_PushStreamCloseDegradesToPollOnly(t *testing.T) {
	push := make(chan *room.Envelope, 8)
	poller := &fakePoller{}
	rec := New(push, poller, fastOptions(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	push <- pushEnvelope(t, msg("m1", "pushed"))
	require.Eventually(t, func() bool {
		return rec.Cursor() == "m1"
	}, time.Second, 5*time.Millisecond)

	// The session drops; only the catch-up poll carries delivery now.
	close(push)

	select {
	case <-done:
		t.Fatal("reconciler stopped when the push stream closed")
	case <-time.After(50 * time.Millisecond):
	}

	poller.set([]*store.Message{msg("m2", "polled"), msg("m1", "pushed")}, nil)
	require.Eventually(t, func() bool {
		return rec.Cursor() == "m2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, ids(rec.Snapshot()))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on cancellation")
	}
}

func TestReconciler_ConcurrentPushAndResyncNeverDuplicates(t *testing.T) {
	poller := &fakePoller{}
	poller.set([]*store.Message{msg("m1", "hello")}, nil)
	rec := New(nil, poller, fastOptions(), nil)
	t.Cleanup(rec.seen.Close)
	env := pushEnvelope(t, msg("m1", "hello"))

	for i := 0; i < 500; i++ {
		rec.mu.Lock()
		rec.visible = nil
		rec.cursor = ""
		rec.seen.Reset(nil)
		rec.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec.handlePush(env)
		}()
		go func() {
			defer wg.Done()
			rec.pollOnce(t.Context())
		}()
		wg.Wait()

		// Whichever path lands first, the other must observe the id as
		// already delivered.
		require.Equal(t, []string{"m1"}, ids(rec.Snapshot()))
	}
}
