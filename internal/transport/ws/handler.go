package ws

import (
	"codepair/internal/service"
	"codepair/internal/transport/rest/middleware"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Config controls the per-connection limits of the gateway
type Config struct {
	EventsPerSecond float64
	EventBurst      int
	// AllowedOrigins is a comma separated list; "*" accepts any origin
	AllowedOrigins string
}

// Handler upgrades authenticated requests to realtime connections
type Handler struct {
	hub      *Hub
	authSvc  *service.AuthService
	events   Dispatcher
	config   Config
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, authSvc *service.AuthService, events Dispatcher, config Config) *Handler {
	h := &Handler{
		hub:     hub,
		authSvc: authSvc,
		events:  events,
		config:  config,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}
	return h
}

// ServeWS handles GET /ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	identity, err := h.authSvc.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	var limiter *rate.Limiter
	if h.config.EventsPerSecond > 0 {
		burst := h.config.EventBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.config.EventsPerSecond), burst)
	}

	client := newClient(h.hub, conn, *identity, limiter)
	h.hub.Register(client)

	go client.writePump()
	go client.readPump(h.events)
}

func originChecker(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimSpace(allowed)
	if allowed == "" || allowed == "*" {
		return func(r *http.Request) bool { return true }
	}

	origins := make(map[string]bool)
	for _, o := range strings.Split(allowed, ",") {
		origins[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return origins[u.Scheme+"://"+u.Host]
	}
}
