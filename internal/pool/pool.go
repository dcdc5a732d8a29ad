// Package pool holds the rating-ordered waiting pool of queued players
// and the expanding-tolerance pairing scan. The Pool does no locking of
// its own: the presence registry guards it with the same mutex that
// protects user state, so pairing and state transitions share one
// critical section.
package pool

import (
	"sort"
	"time"

	"github.com/quizduel/arena/internal/match"
)

// Entry is one queued player. Ordering key is (Rating, JoinedAt)
// ascending. The channel reference is handed to the runner at pairing and
// must never be touched through the pool afterwards.
type Entry struct {
	User     match.User
	JoinedAt time.Time
	Ch       match.Channel
}

// Pair is one pairing emitted by Scan. A is the lower-rated side.
type Pair struct {
	A, B *Entry
}

// Pool is the ordered waiting set. At most one entry per user id.
type Pool struct {
	entries []*Entry
	index   map[int64]*Entry
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{index: make(map[int64]*Entry)}
}

// less orders by (rating, joined_at) ascending.
func less(a, b *Entry) bool {
	if a.User.Rating != b.User.Rating {
		return a.User.Rating < b.User.Rating
	}
	return a.JoinedAt.Before(b.JoinedAt)
}

// Insert adds an entry at its sorted position. It returns false without
// modifying the pool if the user already has an entry.
func (p *Pool) Insert(e *Entry) bool {
	if _, ok := p.index[e.User.ID]; ok {
		return false
	}
	i := sort.Search(len(p.entries), func(i int) bool {
		return !less(p.entries[i], e)
	})
	p.entries = append(p.entries, nil)
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
	p.index[e.User.ID] = e
	return true
}

// Remove deletes the user's entry, returning it, or nil if not queued.
func (p *Pool) Remove(userID int64) *Entry {
	e, ok := p.index[userID]
	if !ok {
		return nil
	}
	delete(p.index, userID)
	for i, cur := range p.entries {
		if cur == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	return e
}

// Get returns the user's entry without removing it, or nil.
func (p *Pool) Get(userID int64) *Entry {
	return p.index[userID]
}

// Len returns the number of queued entries.
func (p *Pool) Len() int {
	return len(p.entries)
}

// Scan walks the ordered pool left to right and emits adjacent pairs
// whose rating gap is strictly below the tolerance
//
//	tolerance = slope * wait
//
// where wait is the longer of the two players' waits (now minus the
// earlier joined_at) in seconds and slope is in rating points per second.
// Paired entries are removed; the remainder, including a trailing
// unpaired entry, keeps its order. There is deliberately no additive
// floor: two players who joined the same instant are not paired until
// the next tick, however close their ratings.
func (p *Pool) Scan(now time.Time, slope float64) []Pair {
	var pairs []Pair
	var rest []*Entry

	n := len(p.entries)
	i := 0
	for i < n-1 {
		p1 := p.entries[i]
		p2 := p.entries[i+1]

		joined := p1.JoinedAt
		if p2.JoinedAt.Before(joined) {
			joined = p2.JoinedAt
		}
		wait := now.Sub(joined).Seconds()

		if p2.User.Rating-p1.User.Rating < slope*wait {
			pairs = append(pairs, Pair{A: p1, B: p2})
			i += 2
		} else {
			rest = append(rest, p1)
			i++
		}
	}
	if i == n-1 {
		rest = append(rest, p.entries[i])
	}

	p.entries = rest
	for _, pr := range pairs {
		delete(p.index, pr.A.User.ID)
		delete(p.index, pr.B.User.ID)
	}
	return pairs
}

// Snapshot returns the entries in order. For tests and introspection.
func (p *Pool) Snapshot() []*Entry {
	out := make([]*Entry, len(p.entries))
	copy(out, p.entries)
	return out
}
