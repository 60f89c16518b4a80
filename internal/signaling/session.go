package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxeline/webrtc-signaling-relay/internal/metrics"
	"github.com/voxeline/webrtc-signaling-relay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// wsSession owns one client connection: the read loop, keepalive pings, and
// the connection's entry in the registry. It is the registry.Conn handed to
// other sessions for delivery.
type wsSession struct {
	srv    *Server
	conn   *websocket.Conn
	userID string

	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

func newWSSession(s *Server, conn *websocket.Conn, userID string) *wsSession {
	return &wsSession{
		srv:    s,
		conn:   conn,
		userID: userID,
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
		done: make(chan struct{}),
	}
}

// TrySend delivers one frame, best effort. A false return means the peer is
// gone or too slow; the caller must not treat it as an error.
func (wss *wsSession) TrySend(payload []byte) bool {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(websocket.TextMessage, payload) == nil
}

func (wss *wsSession) run() {
	replaced, ok := wss.srv.registry.Register(wss.userID, wss)
	if !ok {
		wss.srv.metrics.Inc(metrics.ConnectionsRejected)
		wss.closeWith(websocket.CloseTryAgainLater, "too many connections")
		_ = wss.conn.Close()
		return
	}
	defer wss.teardown()
	if replaced != nil {
		wss.srv.metrics.Inc(metrics.ConnectionsReplaced)
		if old, isWS := replaced.(*wsSession); isWS {
			old.closeWith(websocket.ClosePolicyViolation, "replaced by new connection")
			_ = old.conn.Close()
		}
	}
	wss.srv.metrics.Inc(metrics.ConnectionsOpened)
	wss.srv.logger.Info("client connected", slog.String("user", wss.userID))

	wss.conn.SetReadLimit(wss.srv.maxMessageBytes)
	_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
	wss.conn.SetPongHandler(func(string) error {
		return wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
	})
	go wss.pingLoop()

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			return
		}
		// Rate limit after the read so bytes already in the TCP receive buffer
		// are consumed. Closing with unread data pending can turn into an
		// abortive close (RST) and the client never sees the close reason.
		if !wss.limiter.Allow(1) {
			wss.srv.metrics.Inc(metrics.RateLimited)
			wss.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))

		if msgType != websocket.TextMessage {
			wss.srv.metrics.Inc(metrics.MalformedDropped)
			continue
		}
		wss.srv.metrics.Inc(metrics.MessagesReceived)

		msg, err := parseSignalMessage(data)
		if err != nil {
			if isUnknownType(err) {
				wss.srv.metrics.Inc(metrics.UnknownTypeDropped)
			} else {
				wss.srv.metrics.Inc(metrics.MalformedDropped)
			}
			wss.srv.logger.Debug("dropping message",
				slog.String("user", wss.userID),
				slog.String("reason", err.Error()))
			continue
		}

		wss.dispatch(msg)
	}
}

func (wss *wsSession) dispatch(msg signalMessage) {
	switch msg.Type {
	case messageTypeJoinRoom:
		wss.handleJoin(msg.RoomID)
	case messageTypeLeaveRoom:
		wss.handleLeave(msg.RoomID)
	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate, messageTypeHangup:
		wss.relay(msg)
	}
}

func (wss *wsSession) handleJoin(roomID string) {
	existing := wss.srv.registry.JoinRoom(roomID, wss.userID)

	if payload, err := marshalRoomUsers(roomID, existing); err == nil {
		if !wss.TrySend(payload) {
			wss.srv.metrics.Inc(metrics.SendDropped)
		}
	}

	if payload, err := marshalUserJoined(roomID, wss.userID); err == nil {
		wss.srv.registry.BroadcastToRoom(roomID, payload, wss.userID)
	}

	wss.srv.logger.Debug("joined room",
		slog.String("user", wss.userID), slog.String("room", roomID))
}

func (wss *wsSession) handleLeave(roomID string) {
	wss.srv.registry.LeaveRoom(roomID, wss.userID)
	wss.announceLeft(roomID)

	wss.srv.logger.Debug("left room",
		slog.String("user", wss.userID), slog.String("room", roomID))
}

func (wss *wsSession) relay(msg signalMessage) {
	payload, err := marshalRelay(msg, wss.userID)
	if err != nil {
		return
	}

	if msg.ToUser != "" {
		if wss.srv.registry.SendTo(msg.ToUser, payload) {
			wss.srv.metrics.Inc(metrics.MessagesRelayed)
		} else {
			wss.srv.metrics.Inc(metrics.SendDropped)
		}
		return
	}

	n := wss.srv.registry.BroadcastToRoom(msg.RoomID, payload, wss.userID)
	wss.srv.metrics.Add(metrics.MessagesRelayed, n)
}

// announceLeft broadcasts user_left to whoever remains in the room. The
// departing user has already been removed from it.
func (wss *wsSession) announceLeft(roomID string) {
	payload, err := marshalUserLeft(roomID, wss.userID)
	if err != nil {
		return
	}
	wss.srv.registry.BroadcastToRoom(roomID, payload, wss.userID)
}

func (wss *wsSession) teardown() {
	roomsLeft := wss.srv.registry.Unregister(wss.userID, wss)
	for _, roomID := range roomsLeft {
		wss.announceLeft(roomID)
	}

	wss.doneOnce.Do(func() { close(wss.done) })
	_ = wss.conn.Close()

	wss.srv.metrics.Inc(metrics.ConnectionsClosed)
	wss.srv.logger.Info("client disconnected",
		slog.String("user", wss.userID), slog.Int("rooms_left", len(roomsLeft)))
}

func (wss *wsSession) pingLoop() {
	ticker := time.NewTicker(wss.srv.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-wss.done:
			return
		case <-ticker.C:
			wss.writeMu.Lock()
			err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wss.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
