package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/authflow"
)

// FeedConfig tunes the decision feed's connection handling.
type FeedConfig struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

// DefaultFeedConfig returns the feed's standard tuning. PingPeriod must
// stay below PongTimeout or healthy clients get dropped.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4 * 1024,
		CheckOrigin:    func(r *http.Request) bool { return true },
	}
}

// feedFrame is the wire shape of one broadcast decision.
type feedFrame struct {
	Type      string           `json:"type"`
	Identity  uuid.UUID        `json:"identity"`
	Decision  DecisionResponse `json:"decision"`
	Timestamp time.Time        `json:"timestamp"`
}

// DecisionFeed receives every risk decision the orchestrator makes,
// persists it, and streams it to connected dashboard clients. Publishing
// never blocks the login path: the channel buffers, and a full buffer
// drops the frame for live observers while the audit write still happens
// on the next drain.
type DecisionFeed struct {
	decisions *cache.DecisionCache
	events    repository.EventRepository
	auth      *AuthMiddleware
	logger    *slog.Logger
	tracer    trace.Tracer
	config    FeedConfig

	incoming   chan authflow.DecisionEvent
	clients    map[*feedClient]bool
	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan []byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// feedClient is one connected observer.
type feedClient struct {
	identity uuid.UUID
	conn     *websocket.Conn
	send     chan []byte
	feed     *DecisionFeed
}

// NewDecisionFeed builds the feed and starts its run loop.
func NewDecisionFeed(decisions *cache.DecisionCache, events repository.EventRepository, auth *AuthMiddleware, logger *slog.Logger) *DecisionFeed {
	f := &DecisionFeed{
		decisions:  decisions,
		events:     events,
		auth:       auth,
		logger:     logger,
		tracer:     otel.Tracer("api.rest.decision_feed"),
		config:     DefaultFeedConfig(),
		incoming:   make(chan authflow.DecisionEvent, 256),
		clients:    make(map[*feedClient]bool),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}

	f.wg.Add(2)
	go f.run()
	go f.drain()

	return f
}

// PublishDecision hands one decision to the feed. It never blocks; under
// backpressure the frame is dropped and counted in the log.
func (f *DecisionFeed) PublishDecision(event authflow.DecisionEvent) {
	select {
	case f.incoming <- event:
	case <-f.done:
	default:
		f.logger.Warn("decision feed backlog full, dropping event",
			"identity", event.Identity,
			"outcome", event.Outcome,
		)
	}
}

// Close stops the pumps and disconnects every client.
func (f *DecisionFeed) Close() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
	f.wg.Wait()
}

// run owns the client set. All membership changes and broadcasts flow
// through this loop, so no lock guards the map.
func (f *DecisionFeed) run() {
	defer f.wg.Done()

	for {
		select {
		case client := <-f.register:
			f.clients[client] = true
			f.logger.Debug("decision feed client connected",
				"identity", client.identity,
				"clients", len(f.clients),
			)

		case client := <-f.unregister:
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				close(client.send)
			}

		case frame := <-f.broadcast:
			for client := range f.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer; cut it loose rather than stall the loop.
					delete(f.clients, client)
					close(client.send)
				}
			}

		case <-f.done:
			for client := range f.clients {
				delete(f.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// drain persists each decision and fans it out. Storage failures are
// logged and the event still reaches live observers; the feed is an
// observation channel, not the system of record for grants.
func (f *DecisionFeed) drain() {
	defer f.wg.Done()

	for {
		select {
		case event := <-f.incoming:
			f.handleDecision(event)
		case <-f.done:
			return
		}
	}
}

func (f *DecisionFeed) handleDecision(event authflow.DecisionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	factors := factorsToMap(event.Factors)

	if err := f.decisions.Record(ctx, &cache.DecisionRecord{
		Identity:    event.Identity,
		Outcome:     event.Outcome,
		Score:       event.Score,
		Confidence:  event.Confidence,
		Factors:     factors,
		Analysis:    event.Analysis,
		ChallengeID: event.ChallengeID,
		ObservedAt:  at,
	}); err != nil {
		f.logger.Warn("decision cache write failed",
			"identity", event.Identity,
			"error", err,
		)
	}

	stored := &repository.AuthEvent{
		Identity:    event.Identity,
		Outcome:     event.Outcome,
		Score:       event.Score,
		Confidence:  event.Confidence,
		Factors:     factors,
		Analysis:    event.Analysis,
		ChallengeID: event.ChallengeID,
		CreatedAt:   at,
	}
	if err := f.events.Insert(ctx, stored); err != nil {
		f.logger.Error("decision audit write failed",
			"identity", event.Identity,
			"outcome", event.Outcome,
			"error", err,
		)
	}

	frame, err := json.Marshal(feedFrame{
		Type:      "decision",
		Identity:  event.Identity,
		Decision:  newDecisionResponse(stored),
		Timestamp: at,
	})
	if err != nil {
		f.logger.Error("decision frame marshal failed", "error", err)
		return
	}

	select {
	case f.broadcast <- frame:
	case <-f.done:
	default:
		f.logger.Warn("decision broadcast backlog full, dropping frame")
	}
}

// ServeHTTP upgrades an observer connection. Browsers cannot set an
// Authorization header on a WebSocket handshake, so the token rides the
// query string and is validated the same way the middleware would.
func (f *DecisionFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := f.tracer.Start(r.Context(), "decision_feed.connect")
	defer span.End()

	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "Authorization required")
		return
	}

	identity, _, err := f.auth.Authenticate(ctx, token)
	if err != nil {
		span.RecordError(err)
		writeUnauthorized(w, "Invalid or expired token")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     f.config.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		f.logger.Error("decision feed upgrade failed", "error", err)
		return
	}

	client := &feedClient{
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, 32),
		feed:     f,
	}

	select {
	case f.register <- client:
	case <-f.done:
		conn.Close()
		return
	}

	span.SetAttributes(attribute.String("identity", identity.String()))

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; the feed is one-way. It exists to
// service pong handling and to notice the peer going away.
func (c *feedClient) readPump() {
	defer func() {
		select {
		case c.feed.unregister <- c:
		case <-c.feed.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.feed.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.feed.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.feed.config.PongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.feed.logger.Debug("decision feed read error",
					"identity", c.identity,
					"error", err,
				)
			}
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(c.feed.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
