// duelwatch tails the duel.match.finished subject and logs every
// settlement. Useful for watching a deployment or feeding a terminal
// dashboard.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/messaging"
)

func main() {
	log.Println("Starting duel watch...")

	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "duelwatch"

	natsClient, err := messaging.Connect(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeMatchFinished(func(s match.Summary) {
		log.Printf("match %s: %s | a=%d (%+.1f -> %.1f) b=%d (%+.1f -> %.1f) | %.0fs",
			s.MatchID, s.Result,
			s.PlayerA, s.DeltaA, s.RatingA,
			s.PlayerB, s.DeltaB, s.RatingB,
			s.Duration)
	})
	if err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}

	log.Printf("watching %s on %s", messaging.SubjectMatchFinished, natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	natsClient.Close()
}
