// Package gateway is the WebSocket multiplexer between clients and the game
// service. Each socket authenticates within a deadline, subscribes to logical
// channels (tables, the lobby, its own user channel) and receives the
// envelopes a bus subscriber fans out to matching sockets.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/bricerising/homegame/internal/auth"
	"github.com/bricerising/homegame/internal/broadcast"
	"github.com/bricerising/homegame/internal/events"
	"github.com/bricerising/homegame/internal/metrics"
	"github.com/bricerising/homegame/internal/store"
	"github.com/bricerising/homegame/internal/table"
)

type Deps struct {
	Orchestrator *table.Orchestrator
	Sessions     store.SessionStore
	Bus          broadcast.Bus
	Validator    auth.Validator
	Events       events.Publisher
	Metrics      *metrics.Metrics
	Log          *log.Logger
	// TrustProxy reads the client address from the first X-Forwarded-For hop.
	TrustProxy bool
	// AuthTimeout overrides the authentication deadline. Zero means the
	// default.
	AuthTimeout time.Duration
}

type Gateway struct {
	orch       *table.Orchestrator
	sessions   store.SessionStore
	bus        broadcast.Bus
	validator  auth.Validator
	events     events.Publisher
	metrics    *metrics.Metrics
	log        *log.Logger
	trustProxy bool
	authWait   time.Duration
	upgrader   websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*connection
	// subs maps a channel target ("table:{id}", "lobby", "user:{id}") to the
	// local sockets subscribed to it.
	subs map[string]map[string]*connection
}

func New(deps Deps) *Gateway {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.AuthTimeout <= 0 {
		deps.AuthTimeout = authDeadline
	}
	return &Gateway{
		orch:       deps.Orchestrator,
		sessions:   deps.Sessions,
		bus:        deps.Bus,
		validator:  deps.Validator,
		events:     deps.Events,
		metrics:    deps.Metrics,
		log:        deps.Log,
		trustProxy: deps.TrustProxy,
		authWait:   deps.AuthTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: map[string]*connection{},
		subs:  map[string]map[string]*connection{},
	}
}

// Handler serves the WebSocket endpoint and the health probe.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)
}

// Run consumes the bus and fans envelopes out to subscribed sockets until ctx
// is done.
func (g *Gateway) Run(ctx context.Context) error {
	ch, stop, err := g.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			g.fanOut(env)
		case <-ctx.Done():
			g.closeAll()
			return ctx.Err()
		}
	}
}

func (g *Gateway) fanOut(env broadcast.Envelope) {
	target := env.Target()
	g.mu.RLock()
	sockets := make([]*connection, 0, len(g.subs[target]))
	for _, c := range g.subs[target] {
		sockets = append(sockets, c)
	}
	g.mu.RUnlock()
	for _, c := range sockets {
		c.write(env.Payload)
	}
}

func (g *Gateway) closeAll() {
	g.mu.Lock()
	conns := make([]*connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	remote := r.RemoteAddr
	if g.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			remote = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	token := r.URL.Query().Get("token")

	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("upgrade failed", "remote", remote, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:      uuid.NewString(),
		conn:    socket,
		send:    make(chan []byte, 256),
		gateway: g,
		log:     g.log.WithPrefix("conn"),
		ctx:     ctx,
		cancel:  cancel,
	}
	g.log.Debug("socket connected", "connId", c.id, "remote", remote)

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	c.pushTeardown(func() {
		g.mu.Lock()
		delete(g.conns, c.id)
		g.mu.Unlock()
	})

	c.start()

	if token != "" {
		g.authenticate(c, token)
	}
	// A socket that has not authenticated by the deadline is a policy
	// violation.
	time.AfterFunc(g.authWait, func() {
		if c.user() == "" {
			c.closeWithPolicy(websocket.ClosePolicyViolation, "Authentication required")
		}
	})
}

// authenticate validates the token and promotes the socket to a session:
// registry entry, default subscriptions, metrics and the session event. Each
// completed step pushes its undo so disconnects unwind in reverse.
func (g *Gateway) authenticate(c *connection, token string) {
	if c.user() != "" {
		c.write(welcomeFrame(c.user(), c.id))
		return
	}
	identity, err := g.validator.Validate(c.ctx, token)
	if err != nil {
		c.writeError("INVALID_TOKEN", "token rejected")
		return
	}
	userID := identity.UserID

	ctx := context.Background()
	if err := g.sessions.RegisterConnection(ctx, c.id, userID); err != nil {
		g.log.Error("session.register.failed", "connId", c.id, "err", err)
		c.writeError("INTERNAL", "session registration failed")
		return
	}
	c.setUser(userID)
	c.pushTeardown(func() {
		if err := g.sessions.DeregisterConnection(context.Background(), c.id); err != nil {
			g.log.Warn("session.deregister.failed", "connId", c.id, "err", err)
		}
	})

	g.metrics.WSConnections.Inc()
	c.pushTeardown(func() { g.metrics.WSConnections.Dec() })

	g.events.Publish(events.Event{
		Type:           events.TypeSessionStarted,
		UserID:         userID,
		Payload:        map[string]any{"connectionId": c.id},
		IdempotencyKey: events.Key(events.TypeSessionStarted, c.id),
	})
	c.pushTeardown(func() {
		g.events.Publish(events.Event{
			Type:           events.TypeSessionEnded,
			UserID:         userID,
			Payload:        map[string]any{"connectionId": c.id},
			IdempotencyKey: events.Key(events.TypeSessionEnded, c.id),
		})
	})

	// Every session hears its own channel (hole cards) and the lobby.
	g.addSubscription(c, "user:"+userID, "")
	g.addSubscription(c, "lobby", "")

	c.write(welcomeFrame(userID, c.id))
}

// addSubscription registers the channel locally and in the shared registry.
// tableID is non-empty only for table channels; it drives the best-effort
// spectator cleanup on teardown.
func (g *Gateway) addSubscription(c *connection, channel, tableID string) {
	g.mu.Lock()
	if g.subs[channel] == nil {
		g.subs[channel] = map[string]*connection{}
	}
	if _, exists := g.subs[channel][c.id]; exists {
		g.mu.Unlock()
		return
	}
	g.subs[channel][c.id] = c
	g.mu.Unlock()

	if err := g.sessions.AddSubscription(context.Background(), c.id, channel); err != nil {
		g.log.Warn("session.subscribe.failed", "connId", c.id, "channel", channel, "err", err)
	}
	userID := c.user()
	c.pushTeardown(func() {
		g.removeSubscription(c, channel)
		if tableID != "" {
			if err := g.orch.LeaveSpectator(context.Background(), tableID, userID); err != nil {
				g.log.Debug("spectator.cleanup.failed", "tableId", tableID, "err", err)
			}
		}
	})
}

func (g *Gateway) removeSubscription(c *connection, channel string) {
	g.mu.Lock()
	if set := g.subs[channel]; set != nil {
		delete(set, c.id)
		if len(set) == 0 {
			delete(g.subs, channel)
		}
	}
	g.mu.Unlock()
	if err := g.sessions.RemoveSubscription(context.Background(), c.id, channel); err != nil {
		g.log.Warn("session.unsubscribe.failed", "connId", c.id, "channel", channel, "err", err)
	}
}

func (g *Gateway) subscribeTable(c *connection, tableID string) {
	if tableID == "" {
		c.writeError("INVALID_MESSAGE", "tableId required")
		return
	}
	// The current snapshot is delivered immediately so the client does not
	// wait for the next publish.
	st, err := g.orch.GetTableState(c.ctx, tableID, c.user())
	if err != nil {
		c.writeError("TABLE_NOT_FOUND", "table not found")
		return
	}
	g.addSubscription(c, "table:"+tableID, tableID)
	c.write(encodeFrame(map[string]any{
		"type":       "TableSnapshot",
		"tableState": st,
	}))
}

func (g *Gateway) unsubscribeTable(c *connection, tableID string) {
	g.removeSubscription(c, "table:"+tableID)
	if err := g.orch.LeaveSpectator(context.Background(), tableID, c.user()); err != nil {
		g.log.Debug("spectator.cleanup.failed", "tableId", tableID, "err", err)
	}
}
