// Package matchmaker runs the periodic pairing loop: every tick it scans
// the waiting pool through the presence registry and spawns one match
// runner per emitted pair.
package matchmaker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/presence"
)

// Bus receives pairing announcements. May be nil.
type Bus interface {
	MatchStarted(matchID string, playerA, playerB int64)
}

// Config holds the loop's tunables.
type Config struct {
	Interval time.Duration // time between pairing scans
	Slope    float64       // tolerance growth in rating points per second of wait
	Params   match.Params
}

// Loop is the matchmaking service. Start spawns the ticker goroutine;
// Stop cancels it and joins all in-flight matches, which take the
// cancellation path.
type Loop struct {
	config   Config
	registry *presence.Registry
	deps     match.Deps
	bus      Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a matchmaking loop over the given registry.
func New(config Config, registry *presence.Registry, deps match.Deps, bus Bus) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		config:   config,
		registry: registry,
		deps:     deps,
		bus:      bus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the pairing loop.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
	log.Printf("matchmaker: started (interval=%s, slope=%.0f pts/s)",
		l.config.Interval, l.config.Slope)
}

// Stop cancels the loop and blocks until the ticker goroutine and every
// spawned runner have exited. In-flight matches are cancelled with zero
// rating change.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
	log.Println("matchmaker: stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick runs one pairing scan. Failures are logged and the loop continues.
func (l *Loop) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("matchmaker: tick panic: %v", rec)
		}
	}()

	pairs := l.registry.CollectPairs(time.Now(), l.config.Slope)
	for _, pr := range pairs {
		runner := match.NewRunner(l.config.Params,
			match.Participant{User: pr.A.User, Ch: pr.A.Ch, JoinedAt: pr.A.JoinedAt},
			match.Participant{User: pr.B.User, Ch: pr.B.Ch, JoinedAt: pr.B.JoinedAt},
			l.deps)

		log.Printf("matchmaker: paired %d (%.1f) vs %d (%.1f) -> match %s",
			pr.A.User.ID, pr.A.User.Rating, pr.B.User.ID, pr.B.User.Rating, runner.ID())

		if l.bus != nil {
			l.bus.MatchStarted(runner.ID(), pr.A.User.ID, pr.B.User.ID)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("matchmaker: match %s panic: %v", runner.ID(), rec)
				}
			}()
			runner.Run(l.ctx)
		}()
	}
}
