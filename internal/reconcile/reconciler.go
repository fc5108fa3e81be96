// ABOUTME: Delivery reconciler merging push envelopes and catch-up polls
// ABOUTME: Presents one ordered, duplicate-free message sequence to a consumer

package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/stingtao/chat/internal/dedupe"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

// Defaults applied when Options fields are zero.
const (
	defaultInterval    = 3 * time.Second
	defaultPollTimeout = 5 * time.Second
	defaultSeenTTL     = 5 * time.Minute
	defaultSeenMax     = 1024
)

// Poller fetches the authoritative recent messages for one conversation,
// newest-first, capped by the store. It must be idempotent and safe to call
// on any schedule.
type Poller interface {
	Poll(ctx context.Context) ([]*store.Message, error)
}

// Options tunes a reconciler.
type Options struct {
	Interval    time.Duration // how often to poll the store
	PollTimeout time.Duration // per-poll deadline so a slow store never stalls push
	SeenTTL     time.Duration // how long a delivered id is remembered
	SeenMax     int           // bound on the recently-seen id set
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	if o.SeenTTL <= 0 {
		o.SeenTTL = defaultSeenTTL
	}
	if o.SeenMax <= 0 {
		o.SeenMax = defaultSeenMax
	}
	return o
}

// Reconciler unifies a push stream of new-message envelopes with periodic
// store polls into one gap-free sequence. Push is the latency optimization;
// the poll is the correctness backstop that self-heals any gap left by a
// dropped push. The visible sequence is always consistent with store order.
type Reconciler struct {
	push   <-chan *room.Envelope
	poller Poller
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	visible []*store.Message
	cursor  string // id of the most recently delivered message

	seen    *dedupe.Cache
	changes chan struct{}
}

// New creates a reconciler consuming push envelopes from push and catch-up
// batches from poller. Pass nil logger for the process default. The
// reconciler starts when Run is called and stops when its context is
// cancelled; stopping never closes the underlying session.
func New(push <-chan *room.Envelope, poller Poller, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Reconciler{
		push:    push,
		poller:  poller,
		opts:    opts,
		logger:  logger.With("component", "reconciler"),
		seen:    dedupe.New(opts.SeenTTL, opts.SeenMax),
		changes: make(chan struct{}, 1),
	}
}

// Run drives the reconciler until ctx is cancelled. The poll timer runs in
// its own goroutine so a slow store call never delays push handling; both
// paths serialize their mutations through one mutex.
func (r *Reconciler) Run(ctx context.Context) {
	defer r.seen.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.pollLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case env, ok := <-r.push:
			if !ok {
				// Push stream detached; polling carries delivery alone.
				// A nil channel never fires, so the loop keeps serving
				// poll resyncs until ctx is cancelled.
				r.push = nil
				continue
			}
			r.handlePush(env)
		}
	}
}

// Snapshot returns a copy of the visible sequence in store order.
func (r *Reconciler) Snapshot() []*store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*store.Message, len(r.visible))
	copy(out, r.visible)
	return out
}

// Cursor returns the id of the most recently delivered message, or "".
func (r *Reconciler) Cursor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Changes signals (coalesced) whenever the visible sequence changes.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

// handlePush appends a pushed message unless its id was already delivered.
// The seen set, not just the cursor, guards against the race where a poll
// surfaces the same id concurrently. The seen check and the append happen
// under the same lock as the poll path's wholesale replace, so no
// interleaving can let one id into the visible sequence twice.
func (r *Reconciler) handlePush(env *room.Envelope) {
	if env.Kind != room.KindNewMessage {
		return
	}
	var msg store.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.ID == "" {
		return
	}

	r.mu.Lock()
	if r.seen.Seen(msg.ID) {
		r.mu.Unlock()
		return
	}
	r.visible = append(r.visible, &msg)
	r.cursor = msg.ID
	r.mu.Unlock()
	r.signal()
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce fetches the authoritative batch and resyncs the visible sequence
// against it. A store failure is logged and retried on the next tick; push
// delivery is unaffected.
func (r *Reconciler) pollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, r.opts.PollTimeout)
	batch, err := r.poller.Poll(pollCtx)
	cancel()
	if err != nil {
		r.logger.Warn("catch-up poll failed", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	// Store returns newest-first; the visible sequence is chronological.
	ordered := make([]*store.Message, len(batch))
	for i, msg := range batch {
		ordered[len(batch)-1-i] = msg
	}
	latest := ordered[len(ordered)-1].ID

	r.mu.Lock()
	if latest == r.cursor {
		r.mu.Unlock()
		return
	}

	// The store disagrees with what push delivered: replace wholesale.
	// This is the authoritative resync path.
	ids := make([]string, len(ordered))
	for i, msg := range ordered {
		ids[i] = msg.ID
	}
	r.visible = ordered
	r.cursor = latest
	r.seen.Reset(ids)
	r.mu.Unlock()
	r.signal()
}

// signal coalesces change notifications: a consumer that hasn't drained the
// channel yet needs no second token.
func (r *Reconciler) signal() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}
