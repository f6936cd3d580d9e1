package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/quickies-app/realtime-backend/presence"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// Hub owns the websocket sessions and provides the on-disconnect commitment
// primitive: a registered write fires when a connection drops, even if the
// client never explicitly says goodbye. The presence tracker builds its
// disconnect-detection guarantee on this, never on a client-trusted event.
type Hub struct {
	upgrader websocket.Upgrader
	tracker  *presence.Tracker

	mu       sync.Mutex
	sessions map[string]*session
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: map[string]*session{},
	}
}

// BindTracker wires the presence tracker after construction; the tracker
// needs the hub as its commitment registry, so the two are tied together in
// main.
func (h *Hub) BindTracker(t *presence.Tracker) {
	h.tracker = t
}

var _ presence.CommitmentRegistry = (*Hub)(nil)

// OnDisconnect arms fn against the user's live session. Registration fails
// when no session exists, which the tracker treats as "default to offline".
func (h *Hub) OnDisconnect(userId string, fn func()) (func(), error) {
	h.mu.Lock()
	s, ok := h.sessions[userId]
	h.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no live session for %s", userId)
	}
	return s.addCommitment(fn)
}

// Register mounts the websocket endpoint.
func (h *Hub) Register(router *gin.Engine) {
	router.GET("/ws/:userId", h.serve)
}

type clientMessage struct {
	Type string `json:"type"`
}

func (h *Hub) serve(c *gin.Context) {
	userId := c.Param("userId")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		Logger.LogV2.Errorf("websocket upgrade failed for %s: %v", userId, err)
		return
	}

	s := &session{conn: conn, userId: userId, commitments: map[int64]func(){}}
	h.mu.Lock()
	if prev, ok := h.sessions[userId]; ok {
		// a reconnect supersedes the old session; its commitments fire
		prev.close()
	}
	h.sessions[userId] = s
	h.mu.Unlock()

	ctx := context.Background()
	if err := h.tracker.Connect(ctx, userId); err != nil {
		Logger.LogV2.Errorf("presence connect failed for %s: %v", userId, err)
	}

	h.readLoop(ctx, s)

	h.mu.Lock()
	if h.sessions[userId] == s {
		delete(h.sessions, userId)
	}
	h.mu.Unlock()
	s.fireCommitments()
}

func (h *Hub) readLoop(ctx context.Context, s *session) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			// dropped connection: the commitments fired by the caller are
			// the disconnect-detection path
			s.close()
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "heartbeat":
			if err := h.tracker.Heartbeat(ctx, s.userId); err != nil {
				Logger.LogV2.Errorf("heartbeat write failed for %s: %v", s.userId, err)
			}
		case "disconnect":
			// explicit clean shutdown cancels the commitment before close
			if err := h.tracker.Disconnect(ctx, s.userId); err != nil {
				Logger.LogV2.Errorf("disconnect write failed for %s: %v", s.userId, err)
			}
			s.close()
			return
		}
	}
}

type session struct {
	conn   *websocket.Conn
	userId string

	mu          sync.Mutex
	commitments map[int64]func()
	nextId      int64
	closed      bool
}

func (s *session) addCommitment(fn func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Errorf("session for %s already closed", s.userId)
	}
	id := s.nextId
	s.nextId++
	s.commitments[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.commitments, id)
		s.mu.Unlock()
	}, nil
}

// fireCommitments runs every armed commitment exactly once.
func (s *session) fireCommitments() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.commitments))
	for _, fn := range s.commitments {
		fns = append(fns, fn)
	}
	s.commitments = map[int64]func(){}
	s.closed = true
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *session) close() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed {
		_ = s.conn.Close()
	}
}
