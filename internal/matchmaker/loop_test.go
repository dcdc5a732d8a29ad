package matchmaker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/pool"
	"github.com/quizduel/arena/internal/presence"
)

type idleChan struct {
	mu     sync.Mutex
	sent   []string
	closed chan struct{}
	once   sync.Once
}

func newIdleChan() *idleChan {
	return &idleChan{closed: make(chan struct{})}
}

func (c *idleChan) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *idleChan) ReadText() (string, error) {
	<-c.closed
	return "", io.ErrClosedPipe
}

func (c *idleChan) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type noProblems struct{}

func (noProblems) RandomBatch(context.Context, int) ([]match.Problem, error) {
	return nil, nil
}

type nopSettler struct{}

func (nopSettler) SettleMatch(context.Context, *match.Settlement) error      { return nil }
func (nopSettler) SettleCancelled(context.Context, *match.Cancellation) error { return nil }

type recordingBus struct {
	mu      sync.Mutex
	started []string
}

func (b *recordingBus) MatchStarted(matchID string, _, _ int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, matchID)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.started)
}

func TestLoop_PairsAndSpawns(t *testing.T) {
	p := pool.New()
	reg := presence.NewRegistry(p, time.Hour)
	bus := &recordingBus{}

	params := match.DefaultParams()
	l := New(Config{Interval: 10 * time.Millisecond, Slope: 50, Params: params}, reg,
		match.Deps{Problems: noProblems{}, Settler: nopSettler{}, Presence: reg}, bus)

	reg.Attach(match.User{ID: 1, Rating: 1000}, newIdleChan())
	reg.Attach(match.User{ID: 2, Rating: 1005}, newIdleChan())

	l.Start()
	defer l.Stop()

	// Gap 5 < 50*wait once the pair has waited a fraction of a second;
	// the loop ticks every 10ms.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pair was never matched (announcements: %d)", bus.count())
}

func TestLoop_StopJoinsRunners(t *testing.T) {
	p := pool.New()
	reg := presence.NewRegistry(p, time.Hour)

	l := New(Config{Interval: 10 * time.Millisecond, Slope: 50, Params: match.DefaultParams()}, reg,
		match.Deps{Problems: noProblems{}, Settler: nopSettler{}, Presence: reg}, nil)

	reg.Attach(match.User{ID: 1, Rating: 1000}, newIdleChan())
	reg.Attach(match.User{ID: 2, Rating: 1005}, newIdleChan())

	l.Start()
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not join in-flight work")
	}
}

func TestLoop_LonePlayerStaysQueued(t *testing.T) {
	p := pool.New()
	reg := presence.NewRegistry(p, time.Hour)
	bus := &recordingBus{}

	l := New(Config{Interval: 10 * time.Millisecond, Slope: 50, Params: match.DefaultParams()}, reg,
		match.Deps{Problems: noProblems{}, Settler: nopSettler{}, Presence: reg}, bus)

	reg.Attach(match.User{ID: 1, Rating: 1000}, newIdleChan())

	l.Start()
	time.Sleep(100 * time.Millisecond)
	l.Stop()

	if bus.count() != 0 {
		t.Error("a lone player must not be paired")
	}
	if st, ok := reg.State(1); !ok || st != presence.StateQueued {
		t.Errorf("lone player should stay queued, got %v/%v", st, ok)
	}
}
