package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/portward/internal/auth"
	"github.com/HerbHall/portward/internal/forward"
	"github.com/HerbHall/portward/internal/settings"
	"github.com/HerbHall/portward/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides the WebSocket endpoint for real-time forwarding updates.
type Handler struct {
	hub    *Hub
	tokens *auth.TokenService
	bus    plugin.EventBus
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to forwarding
// events. tokens may be nil when auth is disabled.
func NewHandler(tokens *auth.TokenService, bus plugin.EventBus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		tokens: tokens,
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws", h.handleStream)
}

// handleStream upgrades the connection to WebSocket and streams events.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	clientName := "anonymous"

	// Validate the token from a query parameter (browser WS API doesn't
	// support headers) when auth is enabled.
	if h.tokens != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token parameter", http.StatusUnauthorized)
			return
		}
		claims, err := h.tokens.Validate(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		clientName = claims.Name
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow any origin since we validate via token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		name:   clientName,
		send:   make(chan Message, 256),
		logger: h.logger,
	}

	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until the client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents relays forwarding and settings bus events to all
// connected WebSocket clients.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	relay := func(topic string, msgType MessageType) {
		h.bus.Subscribe(topic, func(_ context.Context, event plugin.Event) {
			h.hub.Broadcast(Message{
				Type:      msgType,
				Timestamp: event.Timestamp,
				Data:      event.Payload,
			})
		})
	}

	relay(forward.TopicGatewayDiscovered, MessageGatewayDiscovered)
	relay(forward.TopicRulesCreated, MessageRulesCreated)
	relay(forward.TopicRestarted, MessageRestarted)
	relay(settings.TopicUpdated, MessageSettingsUpdated)
}
