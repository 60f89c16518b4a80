package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxeline/webrtc-signaling-relay/internal/metrics"
	"github.com/voxeline/webrtc-signaling-relay/internal/origin"
	"github.com/voxeline/webrtc-signaling-relay/internal/registry"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins gates the WebSocket upgrade. Empty means same-host only;
	// "*" allows any browser origin. Requests without an Origin header
	// (non-browser clients) are always accepted.
	AllowedOrigins []string

	// WebSocket inbound hardening.
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server implements the relay's HTTP/WebSocket signaling surface.
//
// Endpoints:
//   - GET /ws/{user_id}        : the signaling WebSocket
//   - GET /api/generate-room   : mint a fresh room id
//   - GET /api/rooms           : list rooms with member counts
type Server struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	allowedOrigins []string

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		logger:   logger,

		allowedOrigins: cfg.AllowedOrigins,

		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = 60 * time.Second
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 20 * time.Second
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = 64 * 1024
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = 50
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{user_id}", s.handleWebSocket)
	mux.HandleFunc("GET /api/generate-room", s.handleGenerateRoom)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}
	normalized, originHost, ok := origin.Normalize(originHeader)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, originHost, r.Host, s.allowedOrigins)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if strings.TrimSpace(userID) == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied (403 on origin rejection, 400 otherwise).
		return
	}

	wss := newWSSession(s, conn, userID)
	wss.run()
}

func (s *Server) handleGenerateRoom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"room_id": uuid.NewString()})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.Rooms()
	if rooms == nil {
		rooms = make([]registry.RoomInfo, 0)
	}
	writeJSON(w, http.StatusOK, map[string][]registry.RoomInfo{"rooms": rooms})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
