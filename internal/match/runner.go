package match

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quizduel/arena/internal/elo"
	"github.com/quizduel/arena/internal/metrics"
	"github.com/quizduel/arena/internal/protocol"
)

// eventQueueSize bounds the match-local event queue. Overflow is treated
// as a misbehaving channel and degrades to a disconnect.
const eventQueueSize = 64

// Params are the tunables of a single match.
type Params struct {
	ProblemCount   int
	ProblemTimeout time.Duration
	RateWindow     time.Duration
	RateMax        int
	ReconnectGrace time.Duration // within [5s, 15s] per deployment policy
	K              float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ProblemCount:   3,
		ProblemTimeout: 120 * time.Second,
		RateWindow:     10 * time.Second,
		RateMax:        3,
		ReconnectGrace: 10 * time.Second,
		K:              elo.DefaultK,
	}
}

// Problem is one task as the runner sees it: an id to announce and a
// canonical answer to compare against.
type Problem struct {
	ID     int64
	Answer string
}

// ProblemSource supplies a random batch of problems. Returning fewer than
// n items means the repository cannot serve a match.
type ProblemSource interface {
	RandomBatch(ctx context.Context, n int) ([]Problem, error)
}

// Settlement is the outcome of a decided or drawn match. The settler
// fills RatingAfterA/B from the transactional rating update.
type Settlement struct {
	MatchID      string
	PlayerA      int64
	PlayerB      int64
	Result       string // "a_wins" | "b_wins" | "draw"
	DeltaA       float64
	DeltaB       float64
	RatingAfterA float64
	RatingAfterB float64
}

// Cancellation records a match that ended with no rating change.
type Cancellation struct {
	MatchID string
	PlayerA int64
	PlayerB int64
	RatingA float64 // unchanged ratings, echoed into the history rows
	RatingB float64
}

// Settler persists match outcomes. Both calls run their writes in a
// single transaction.
type Settler interface {
	SettleMatch(ctx context.Context, s *Settlement) error
	SettleCancelled(ctx context.Context, c *Cancellation) error
}

// Presence is the slice of the presence registry a runner needs.
type Presence interface {
	BeginReconnect(userID int64) (<-chan Channel, func())
	EndMatch(userIDs ...int64)
	Requeue(u User, ch Channel, joinedAt time.Time)
	Drop(userID int64)
}

// Summary describes a finished match for downstream consumers.
type Summary struct {
	MatchID  string  `json:"match_id"`
	PlayerA  int64   `json:"player_a"`
	PlayerB  int64   `json:"player_b"`
	Result   string  `json:"result"`
	DeltaA   float64 `json:"delta_a"`
	DeltaB   float64 `json:"delta_b"`
	RatingA  float64 `json:"rating_a"`
	RatingB  float64 `json:"rating_b"`
	Duration float64 `json:"duration_seconds"`
}

// Notifier receives match summaries after settlement. May be nil.
type Notifier interface {
	MatchFinished(s Summary)
}

// Participant is one side of a pairing as handed over by the matchmaker.
type Participant struct {
	User     User
	Ch       Channel
	JoinedAt time.Time
}

// Deps are the runner's external collaborators.
type Deps struct {
	Problems ProblemSource
	Settler  Settler
	Presence Presence
	Notifier Notifier
}

type player struct {
	User
	ch       Channel
	joinedAt time.Time
	score    int
	window   *Window
}

// Runner drives one match from handshake to settlement. It is the single
// consumer of the match event queue and owns all match state.
type Runner struct {
	id        string
	params    Params
	a, b      *player
	deps      Deps
	events    chan Event
	done      chan struct{}
	startedAt time.Time
}

// NewRunner builds a runner for the given pairing.
func NewRunner(params Params, pa, pb Participant, deps Deps) *Runner {
	return &Runner{
		id:     uuid.New().String(),
		params: params,
		a: &player{
			User: pa.User, ch: pa.Ch, joinedAt: pa.JoinedAt,
			window: NewWindow(params.RateMax, params.RateWindow),
		},
		b: &player{
			User: pb.User, ch: pb.Ch, joinedAt: pb.JoinedAt,
			window: NewWindow(params.RateMax, params.RateWindow),
		},
		deps:   deps,
		events: make(chan Event, eventQueueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the match id.
func (r *Runner) ID() string { return r.id }

type problemStatus int

const (
	problemSolved problemStatus = iota
	problemTimeout
	problemCancelled
)

// Run plays the match to completion. It returns after settlement (or
// cancellation) has been recorded and both channels are closed. External
// cancellation of ctx is unrecoverable and takes the cancellation path;
// participant disconnects instead enter the reconnect wait.
func (r *Runner) Run(ctx context.Context) {
	metrics.ActiveMatches.Inc()
	defer metrics.ActiveMatches.Dec()
	r.startedAt = time.Now()

	// Liveness probe: a participant we cannot write to never entered the
	// match. Requeue the survivor, drop the loser, record nothing.
	aOK := r.a.ch.Send(protocol.MsgPing) == nil
	bOK := r.b.ch.Send(protocol.MsgPing) == nil
	if !aOK || !bOK {
		r.abort(aOK, bOK)
		return
	}

	problems, err := r.deps.Problems.RandomBatch(ctx, r.params.ProblemCount)
	if err != nil || len(problems) < r.params.ProblemCount {
		if err != nil {
			log.Printf("match %s: problem fetch failed: %v", r.id, err)
		} else {
			log.Printf("match %s: repository returned %d/%d problems", r.id, len(problems), r.params.ProblemCount)
		}
		r.sendBoth(protocol.MsgNoTasks)
		metrics.MatchesTotal.WithLabelValues("aborted").Inc()
		r.teardown()
		return
	}

	r.sendBoth(protocol.MsgMatchStarted)
	go r.produce(r.a.ID, r.a.ch)
	go r.produce(r.b.ID, r.b.ch)

	if cancelled := r.playProblems(ctx, problems); cancelled {
		r.cancelMatch()
		return
	}
	r.settle()
}

// produce reads frames from one participant's channel and pushes typed
// events onto the match queue. Every I/O failure is translated into a
// synthetic disconnected event so the match loop never sees an error.
func (r *Runner) produce(userID int64, ch Channel) {
	for {
		text, err := ch.ReadText()
		if err != nil {
			r.pushBlocking(Event{UserID: userID, Kind: EventDisconnected})
			return
		}

		kind, payload := protocol.Classify(text)
		ev := Event{UserID: userID, Payload: payload, ReceivedAt: time.Now()}
		switch kind {
		case protocol.KindChat:
			ev.Kind = EventChat
		case protocol.KindEmoji:
			ev.Kind = EventEmoji
		default:
			ev.Kind = EventAnswer
		}

		select {
		case r.events <- ev:
		case <-r.done:
			return
		default:
			// Queue overflow: the channel is flooding faster than the
			// match can consume. Degrade to a disconnect.
			log.Printf("match %s: event queue overflow for user %d", r.id, userID)
			_ = ch.Close()
			r.pushBlocking(Event{UserID: userID, Kind: EventDisconnected})
			return
		}
	}
}

func (r *Runner) pushBlocking(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// playProblems runs the problem sequence. It returns true if the match
// must take the cancellation path.
func (r *Runner) playProblems(ctx context.Context, problems []Problem) bool {
	majority := r.params.ProblemCount / 2
	for _, prob := range problems {
		deadline := time.Now().Add(r.params.ProblemTimeout)
		r.sendBoth(protocol.FormatTask(prob.ID))

		if status := r.playOne(ctx, prob, deadline); status == problemCancelled {
			return true
		}
		if r.a.score > majority || r.b.score > majority {
			break
		}
	}
	return false
}

// playOne consumes events until the problem is resolved, the deadline
// elapses, or the match is cancelled. The deadline is absolute: a
// reconnect wait in the middle does not extend it.
func (r *Runner) playOne(ctx context.Context, prob Problem, deadline time.Time) problemStatus {
	canonical := protocol.Normalize(prob.Answer)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return problemCancelled

		case <-timer.C:
			r.sendBoth(protocol.MsgTimeUp)
			return problemTimeout

		case ev := <-r.events:
			p := r.playerByID(ev.UserID)
			if p == nil {
				continue
			}

			switch ev.Kind {
			case EventChat:
				r.send(r.opponent(p), protocol.FormatChat(ev.Payload))

			case EventEmoji:
				r.send(r.opponent(p), protocol.FormatEmoji(ev.Payload))

			case EventDisconnected:
				if !r.awaitReconnect(ctx, p, prob) {
					return problemCancelled
				}

			case EventAnswer:
				if !p.window.Allow(ev.ReceivedAt) {
					metrics.AnswersTotal.WithLabelValues("rate_limited").Inc()
					r.send(p, protocol.FormatRateLimited(r.params.RateWindow))
					continue
				}
				if protocol.Normalize(ev.Payload) == canonical {
					p.score++
					metrics.AnswersTotal.WithLabelValues("correct").Inc()
					r.send(p, protocol.MsgCorrect)
					r.send(r.opponent(p), protocol.MsgOpponentAnswered)
					return problemSolved
				}
				metrics.AnswersTotal.WithLabelValues("incorrect").Inc()
				r.send(p, protocol.MsgIncorrect)
			}
		}
	}
}

// awaitReconnect holds the match while a disconnected participant has a
// chance to come back. On success the new channel takes over, the client
// is re-told the match state, and the running problem deadline stands.
func (r *Runner) awaitReconnect(ctx context.Context, p *player, prob Problem) bool {
	log.Printf("match %s: user %d disconnected, waiting %s for reconnect",
		r.id, p.ID, r.params.ReconnectGrace)
	_ = p.ch.Close()

	slot, cancel := r.deps.Presence.BeginReconnect(p.ID)
	defer cancel()

	timer := time.NewTimer(r.params.ReconnectGrace)
	defer timer.Stop()

	select {
	case ch := <-slot:
		p.ch = ch
		go r.produce(p.ID, ch)
		r.send(p, protocol.MsgMatchStarted)
		r.send(p, protocol.FormatTask(prob.ID))
		metrics.ReconnectsTotal.WithLabelValues("success").Inc()
		log.Printf("match %s: user %d reconnected", r.id, p.ID)
		return true

	case <-timer.C:
		metrics.ReconnectsTotal.WithLabelValues("timeout").Inc()
		return false

	case <-ctx.Done():
		return false
	}
}

// settle records the outcome in one transaction (retried once), announces
// the new ratings, and releases both participants.
func (r *Runner) settle() {
	var result string
	var deltaA float64
	switch {
	case r.a.score == r.b.score:
		result = "draw"
		deltaA = elo.Delta(r.a.Rating, r.b.Rating, elo.Draw, r.params.K)
	case r.a.score > r.b.score:
		result = "a_wins"
		deltaA = elo.Delta(r.a.Rating, r.b.Rating, elo.Win, r.params.K)
	default:
		result = "b_wins"
		deltaA = elo.Delta(r.a.Rating, r.b.Rating, elo.Loss, r.params.K)
	}

	s := &Settlement{
		MatchID: r.id,
		PlayerA: r.a.ID,
		PlayerB: r.b.ID,
		Result:  result,
		DeltaA:  deltaA,
		DeltaB:  -deltaA,
	}

	// Settlement must survive external shutdown; it gets its own context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.deps.Settler.SettleMatch(ctx, s)
	if err != nil {
		log.Printf("match %s: settlement failed, retrying: %v", r.id, err)
		err = r.deps.Settler.SettleMatch(ctx, s)
	}
	if err != nil {
		log.Printf("match %s: settlement failed twice, degrading to cancellation: %v", r.id, err)
		r.cancelMatch()
		return
	}

	switch result {
	case "a_wins":
		r.send(r.a, protocol.FormatResult(protocol.ResultWin, s.RatingAfterA))
		r.send(r.b, protocol.FormatResult(protocol.ResultLoss, s.RatingAfterB))
	case "b_wins":
		r.send(r.a, protocol.FormatResult(protocol.ResultLoss, s.RatingAfterA))
		r.send(r.b, protocol.FormatResult(protocol.ResultWin, s.RatingAfterB))
	default:
		r.send(r.a, protocol.FormatResult(protocol.ResultDraw, s.RatingAfterA))
		r.send(r.b, protocol.FormatResult(protocol.ResultDraw, s.RatingAfterB))
	}

	metrics.MatchesTotal.WithLabelValues(result).Inc()
	metrics.MatchDuration.Observe(time.Since(r.startedAt).Seconds())
	log.Printf("match %s: %s (%d:%d), deltas %+.1f/%+.1f",
		r.id, result, r.a.score, r.b.score, s.DeltaA, s.DeltaB)

	r.notify(result, s.DeltaA, s.DeltaB, s.RatingAfterA, s.RatingAfterB)
	r.teardown()
}

// cancelMatch is the terminal path for reconnect-grace expiry, external
// shutdown, and unrecoverable settlement errors. Ratings do not change;
// the cancelled record and zero-delta history rows are still written.
func (r *Runner) cancelMatch() {
	r.sendBoth(protocol.MsgOpponentDisconnected)

	c := &Cancellation{
		MatchID: r.id,
		PlayerA: r.a.ID,
		PlayerB: r.b.ID,
		RatingA: r.a.Rating,
		RatingB: r.b.Rating,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.deps.Settler.SettleCancelled(ctx, c)
	if err != nil {
		log.Printf("match %s: cancellation write failed, retrying: %v", r.id, err)
		err = r.deps.Settler.SettleCancelled(ctx, c)
	}
	if err != nil {
		log.Printf("match %s: cancellation write failed twice, giving up: %v", r.id, err)
	}

	metrics.MatchesTotal.WithLabelValues("cancelled").Inc()
	log.Printf("match %s: cancelled", r.id)

	r.notify("cancelled", 0, 0, r.a.Rating, r.b.Rating)
	r.teardown()
}

// abort handles a failed startup handshake: the unreachable side is
// dropped, the surviving side goes back into the pool with its original
// joined_at, and no match is recorded.
func (r *Runner) abort(aOK, bOK bool) {
	log.Printf("match %s: handshake failed (a=%v b=%v), aborting", r.id, aOK, bOK)
	close(r.done)

	for _, side := range []struct {
		p  *player
		ok bool
	}{{r.a, aOK}, {r.b, bOK}} {
		if side.ok {
			r.deps.Presence.Requeue(side.p.User, side.p.ch, side.p.joinedAt)
		} else {
			r.deps.Presence.Drop(side.p.ID)
			_ = side.p.ch.Close()
		}
	}
	metrics.MatchesTotal.WithLabelValues("aborted").Inc()
}

func (r *Runner) teardown() {
	close(r.done)
	_ = r.a.ch.Close()
	_ = r.b.ch.Close()
	r.deps.Presence.EndMatch(r.a.ID, r.b.ID)
}

func (r *Runner) notify(result string, deltaA, deltaB, ratingA, ratingB float64) {
	if r.deps.Notifier == nil {
		return
	}
	r.deps.Notifier.MatchFinished(Summary{
		MatchID:  r.id,
		PlayerA:  r.a.ID,
		PlayerB:  r.b.ID,
		Result:   result,
		DeltaA:   deltaA,
		DeltaB:   deltaB,
		RatingA:  ratingA,
		RatingB:  ratingB,
		Duration: time.Since(r.startedAt).Seconds(),
	})
}

func (r *Runner) playerByID(id int64) *player {
	switch id {
	case r.a.ID:
		return r.a
	case r.b.ID:
		return r.b
	}
	return nil
}

func (r *Runner) opponent(p *player) *player {
	if p == r.a {
		return r.b
	}
	return r.a
}

// send writes one frame to a participant. A failed write closes the
// channel so its producer surfaces the disconnect as an event; the match
// loop itself never handles transport errors.
func (r *Runner) send(p *player, text string) {
	if err := p.ch.Send(text); err != nil {
		_ = p.ch.Close()
	}
}

func (r *Runner) sendBoth(text string) {
	r.send(r.a, text)
	r.send(r.b, text)
}
