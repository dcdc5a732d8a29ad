// Package messaging publishes duel lifecycle events over NATS so
// downstream services (leaderboards, statistics, notifications) can react
// without coupling to the duel core.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/quizduel/arena/internal/match"
)

// NATS subjects published by the duel server.
const (
	SubjectMatchStarted  = "duel.match.started"
	SubjectMatchFinished = "duel.match.finished"
)

// StartedEvent announces a fresh pairing.
type StartedEvent struct {
	MatchID string `json:"match_id"`
	PlayerA int64  `json:"player_a"`
	PlayerB int64  `json:"player_b"`
}

// Client wraps the NATS connection with duel-specific publish helpers.
type Client struct {
	conn *nats.Conn
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "duelserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite
	}
}

// Connect dials NATS and returns a ready client.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("nats: connected to %s", nc.ConnectedUrl())
	return &Client{conn: nc}, nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		log.Printf("nats: drain: %v", err)
	}
}

// MatchStarted publishes a pairing announcement. Publish failures are
// logged, never propagated: the bus is observability, not control flow.
func (c *Client) MatchStarted(matchID string, playerA, playerB int64) {
	c.publish(SubjectMatchStarted, StartedEvent{
		MatchID: matchID,
		PlayerA: playerA,
		PlayerB: playerB,
	})
}

// MatchFinished publishes the settlement summary.
func (c *Client) MatchFinished(s match.Summary) {
	c.publish(SubjectMatchFinished, s)
}

// SubscribeMatchFinished registers a handler for settlement summaries.
// Used by consumers such as the duelwatch tool.
func (c *Client) SubscribeMatchFinished(handler func(s match.Summary)) error {
	_, err := c.conn.Subscribe(SubjectMatchFinished, func(msg *nats.Msg) {
		var s match.Summary
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			log.Printf("nats: bad %s payload: %v", SubjectMatchFinished, err)
			return
		}
		handler(s)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectMatchFinished, err)
	}
	return nil
}

func (c *Client) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("nats: marshal %s: %v", subject, err)
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		log.Printf("nats: publish %s: %v", subject, err)
	}
}
