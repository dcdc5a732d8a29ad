// Package presence tracks per-user connection state and enforces the two
// global invariants: at most one active channel per user, and at most one
// non-finished match per user. The registry owns the waiting pool; every
// transition, including the pairing scan, runs under its single mutex and
// never blocks while holding it.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/metrics"
	"github.com/quizduel/arena/internal/pool"
	"github.com/quizduel/arena/internal/protocol"
)

// State of a known user. Users with no entry are idle.
type State int

const (
	StateQueued State = iota
	StateInMatch
	StateAwaitingReconnect
)

// Outcome of an Attach call.
type Outcome int

const (
	// QueuedNew: the user was idle and is now in the waiting pool.
	QueuedNew Outcome = iota
	// ReplacedQueued: the user was already queued; the new channel took
	// over and the old one (AttachResult.OldCh) must be notified and
	// closed by the caller.
	ReplacedQueued
	// Reconnected: the channel was delivered to a runner waiting out the
	// reconnect grace. The runner owns it from here.
	Reconnected
	// AlreadyInMatch: the user is in a match and not awaiting reconnect.
	AlreadyInMatch
)

// AttachResult is what Attach reports back to the gateway. Channel sends
// implied by the outcome happen in the caller, outside the registry lock.
type AttachResult struct {
	Outcome Outcome
	OldCh   match.Channel // non-nil only for ReplacedQueued
}

type userEntry struct {
	state     State
	ch        match.Channel
	released  chan struct{}        // closed when the entry leaves the queued state
	reconnect chan match.Channel   // single-slot, non-nil while awaiting reconnect
}

// Registry is the process-wide presence table.
type Registry struct {
	mu           sync.Mutex
	users        map[int64]*userEntry
	pool         *pool.Pool
	pingInterval time.Duration
}

// NewRegistry creates a registry over the given pool. pingInterval is how
// often queued channels are probed for liveness.
func NewRegistry(p *pool.Pool, pingInterval time.Duration) *Registry {
	return &Registry{
		users:        make(map[int64]*userEntry),
		pool:         p,
		pingInterval: pingInterval,
	}
}

// Attach registers a freshly authenticated channel for the user and
// reports how it was absorbed. See Outcome for the cases.
func (r *Registry) Attach(u match.User, ch match.Channel) AttachResult {
	r.mu.Lock()

	e, ok := r.users[u.ID]
	if !ok {
		e = &userEntry{state: StateQueued, ch: ch, released: make(chan struct{})}
		r.users[u.ID] = e
		r.pool.Insert(&pool.Entry{User: u, JoinedAt: time.Now(), Ch: ch})
		released := e.released
		metrics.QueueSize.Set(float64(r.pool.Len()))
		r.mu.Unlock()

		go r.watch(u.ID, ch, released)
		return AttachResult{Outcome: QueuedNew}
	}

	switch e.state {
	case StateQueued:
		old := e.ch
		e.ch = ch
		// Keep the pool position and joined_at; only the channel changes.
		if pe := r.pool.Get(u.ID); pe != nil {
			pe.Ch = ch
		}
		close(e.released)
		e.released = make(chan struct{})
		released := e.released
		r.mu.Unlock()

		go r.watch(u.ID, ch, released)
		return AttachResult{Outcome: ReplacedQueued, OldCh: old}

	case StateAwaitingReconnect:
		select {
		case e.reconnect <- ch:
			e.state = StateInMatch
			e.ch = ch
			r.mu.Unlock()
			return AttachResult{Outcome: Reconnected}
		default:
			// Slot already taken by a concurrent attach.
			r.mu.Unlock()
			return AttachResult{Outcome: AlreadyInMatch}
		}

	default: // StateInMatch
		r.mu.Unlock()
		return AttachResult{Outcome: AlreadyInMatch}
	}
}

// Detach handles a surfaced channel error for a queued user: the entry
// leaves the pool and the user becomes idle. In-match disconnects never
// come through here; they surface as producer events inside the runner.
func (r *Registry) Detach(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok || e.state != StateQueued {
		return
	}
	r.pool.Remove(userID)
	close(e.released)
	delete(r.users, userID)
	metrics.QueueSize.Set(float64(r.pool.Len()))
}

// CollectPairs runs the pairing scan and marks both sides of every emitted
// pair in_match within the same critical section, closing the race with
// concurrent joins.
func (r *Registry) CollectPairs(now time.Time, slope float64) []pool.Pair {
	r.mu.Lock()
	defer r.mu.Unlock()

	pairs := r.pool.Scan(now, slope)
	for _, pr := range pairs {
		for _, id := range []int64{pr.A.User.ID, pr.B.User.ID} {
			if e, ok := r.users[id]; ok && e.state == StateQueued {
				e.state = StateInMatch
				close(e.released)
			}
		}
	}
	metrics.QueueSize.Set(float64(r.pool.Len()))
	return pairs
}

// BeginReconnect opens the single reconnect slot for an in-match user.
// The runner selects on the returned channel against its grace timer. The
// cancel func must be called on every exit path; it drains and closes a
// channel that arrived after the runner stopped waiting.
func (r *Registry) BeginReconnect(userID int64) (<-chan match.Channel, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := make(chan match.Channel, 1)
	if e, ok := r.users[userID]; ok {
		e.state = StateAwaitingReconnect
		e.reconnect = slot
	}

	cancel := func() {
		r.mu.Lock()
		if e, ok := r.users[userID]; ok && e.reconnect == slot {
			e.reconnect = nil
			if e.state == StateAwaitingReconnect {
				e.state = StateInMatch
			}
		}
		r.mu.Unlock()

		select {
		case ch := <-slot:
			_ = ch.Close()
		default:
		}
	}
	return slot, cancel
}

// Requeue puts a user back into the waiting pool, preserving the given
// joined_at so an aborted pairing does not reset their accumulated wait.
// Used by runners when the opposite side failed the startup handshake.
func (r *Registry) Requeue(u match.User, ch match.Channel, joinedAt time.Time) {
	r.mu.Lock()

	e, ok := r.users[u.ID]
	if !ok {
		e = &userEntry{}
		r.users[u.ID] = e
	}
	e.state = StateQueued
	e.ch = ch
	e.released = make(chan struct{})
	e.reconnect = nil
	if !r.pool.Insert(&pool.Entry{User: u, JoinedAt: joinedAt, Ch: ch}) {
		log.Printf("presence: requeue of user %d found a stale pool entry", u.ID)
	}
	released := e.released
	metrics.QueueSize.Set(float64(r.pool.Len()))
	r.mu.Unlock()

	go r.watch(u.ID, ch, released)
}

// Drop forgets a user entirely, whatever their state. The caller closes
// the channel.
func (r *Registry) Drop(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return
	}
	if e.state == StateQueued {
		r.pool.Remove(userID)
		close(e.released)
		metrics.QueueSize.Set(float64(r.pool.Len()))
	}
	delete(r.users, userID)
}

// EndMatch clears the in-match flags of finished participants. Channels
// are owned and closed by the runner.
func (r *Registry) EndMatch(userIDs ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range userIDs {
		if e, ok := r.users[id]; ok && e.state != StateQueued {
			delete(r.users, id)
		}
	}
}

// State reports the user's current state. The second return is false for
// idle (unknown) users.
func (r *Registry) State(userID int64) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// watch probes a queued channel with ping frames until the entry leaves
// the queue. A failed write means the client is gone: the entry is
// detached and the channel closed. Adapted from the connection heartbeat
// that detects dead sockets the kernel has not reported yet.
func (r *Registry) watch(userID int64, ch match.Channel, released <-chan struct{}) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-released:
			return
		case <-ticker.C:
			if err := ch.Send(protocol.MsgPing); err != nil {
				log.Printf("presence: queued channel for user %d died: %v", userID, err)
				r.Detach(userID)
				_ = ch.Close()
				return
			}
		}
	}
}
