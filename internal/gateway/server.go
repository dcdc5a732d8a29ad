package gateway

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"

	"github.com/quizduel/arena/internal/ban"
	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/presence"
	"github.com/quizduel/arena/internal/protocol"
	"github.com/quizduel/arena/internal/ratelimit"
	"github.com/quizduel/arena/internal/store"
)

// Config holds the gateway's tunables.
type Config struct {
	ListenAddr   string
	JWTSecret    []byte
	TokenTimeout time.Duration // how long a fresh connection may take to present its token
	WriteTimeout time.Duration // per-frame write deadline
}

// DefaultConfig returns the gateway defaults; the secret must still be set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		TokenTimeout: 10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// UserSource resolves usernames to accounts. Implemented by store.Store.
type UserSource interface {
	ResolveUser(ctx context.Context, username string) (*store.User, error)
}

// Server upgrades HTTP requests to duel WebSocket sessions.
type Server struct {
	config   Config
	registry *presence.Registry
	users    UserSource
	limiter  *ratelimit.Limiter // optional
	bans     *ban.Store         // optional
	httpSrv  *http.Server
}

// NewServer builds the gateway. limiter and bans may be nil when Redis is
// not configured; the corresponding checks are skipped.
func NewServer(config Config, registry *presence.Registry, users UserSource, limiter *ratelimit.Limiter, bans *ban.Store) *Server {
	s := &Server{
		config:   config,
		registry: registry,
		users:    users,
		limiter:  limiter,
		bans:     bans,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/duel/join", s.handleJoin)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpSrv = &http.Server{Addr: config.ListenAddr, Handler: mux}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	log.Printf("gateway: listening on %s", s.config.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections. Established duel sessions are
// torn down by the matchmaker loop, not here.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		ip := clientIP(r)
		allowed, _ := s.limiter.Allow(r.Context(), ip, ratelimit.RuleConnect)
		if !allowed {
			log.Printf("gateway: connect rate limit hit ip=%s", ip)
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	go s.serve(netConn)
}

// serve runs the join handshake on a freshly upgraded connection:
//
//	-> Connected
//	<- <token>
//	-> token accepted | invalid token (and close)
//
// then hands the channel to the presence registry.
func (s *Server) serve(netConn net.Conn) {
	c := newConn(netConn, s.config.WriteTimeout)

	if err := c.Send(protocol.MsgConnected); err != nil {
		c.Close()
		return
	}

	c.setReadDeadline(time.Now().Add(s.config.TokenTimeout))
	tokenString, err := c.ReadText()
	if err != nil {
		log.Printf("gateway: token read from %s failed: %v", netConn.RemoteAddr(), err)
		c.Close()
		return
	}
	c.setReadDeadline(time.Time{})

	u, ok := s.authenticate(tokenString)
	if !ok {
		_ = c.Send(protocol.MsgInvalidToken)
		c.Close()
		return
	}

	if err := c.Send(protocol.MsgTokenAccepted); err != nil {
		c.Close()
		return
	}

	res := s.registry.Attach(u, c)
	switch res.Outcome {
	case presence.QueuedNew:
		_ = c.Send(protocol.MsgSearchStarted)

	case presence.ReplacedQueued:
		// The stale channel learns it lost the slot, the new one queues.
		_ = res.OldCh.Send(protocol.MsgOpponentDisconnected)
		_ = res.OldCh.Close()
		_ = c.Send(protocol.MsgSearchStarted)

	case presence.Reconnected:
		// A waiting runner owns the channel now.

	case presence.AlreadyInMatch:
		_ = c.Send(protocol.MsgAlreadyInMatch)
		c.Close()
	}
}

// authenticate verifies the token and resolves the account. Banned users
// are indistinguishable from bad tokens on the wire.
func (s *Server) authenticate(tokenString string) (match.User, bool) {
	username, err := ParseToken(s.config.JWTSecret, tokenString)
	if err != nil {
		log.Printf("gateway: rejected token: %v", err)
		return match.User{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	u, err := s.users.ResolveUser(ctx, username)
	if err != nil {
		log.Printf("gateway: resolve user %q: %v", username, err)
		return match.User{}, false
	}
	if u == nil {
		log.Printf("gateway: token for unknown user %q", username)
		return match.User{}, false
	}
	if u.Banned {
		log.Printf("gateway: rejected banned user %q", username)
		return match.User{}, false
	}

	if s.bans != nil {
		banned, reason, err := s.bans.IsBanned(ctx, u.ID)
		if err != nil {
			// Redis outage must not lock everyone out.
			log.Printf("gateway: ban check for user %d failed: %v (failing open)", u.ID, err)
		} else if banned {
			log.Printf("gateway: rejected temporarily banned user %q: %s", username, reason)
			return match.User{}, false
		}
	}

	return match.User{ID: u.ID, Username: u.Username, Rating: u.Rating}, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
