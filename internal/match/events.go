// Package match implements the per-pair duel coordinator: the problem
// loop, answer adjudication, chat/emoji relay, reconnect handling and
// rating settlement. One Runner owns all state for its match; producer
// goroutines only push typed events into the match-local queue.
package match

import "time"

// Channel is a duplex text channel to one participant. Send and ReadText
// may be called from different goroutines; implementations serialize
// writes internally.
type Channel interface {
	Send(text string) error
	ReadText() (string, error)
	Close() error
}

// EventKind discriminates events on the match queue.
type EventKind int

const (
	EventAnswer EventKind = iota
	EventChat
	EventEmoji
	// EventDisconnected is synthesized by a producer goroutine when its
	// channel errors. It carries a zero ReceivedAt.
	EventDisconnected
)

// Event is one item on the match event queue. Events from both
// participants are totally ordered by their arrival on the queue.
type Event struct {
	UserID     int64
	Kind       EventKind
	Payload    string
	ReceivedAt time.Time
}

// User identifies a duel participant at pairing time. Rating is the value
// read at connect; settlement applies deltas against the persisted row.
type User struct {
	ID       int64
	Username string
	Rating   float64
}
