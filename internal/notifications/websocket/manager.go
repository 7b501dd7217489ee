package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Manager streams committed events of a submission to the clients watching it.
// It implements notifications.Publisher.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*Connection]struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection is one client watching one submission.
type Connection struct {
	ID           string
	CallerID     string
	SubmissionID uuid.UUID
	conn         *websocket.Conn
	send         chan notifications.Event
}

// NewManager creates a manager. checkOrigin may be nil to accept any origin.
func NewManager(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Manager{
		subscribers: make(map[uuid.UUID]map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Serve upgrades the request and blocks until the client goes away. The
// caller must have authorized callerID to read the submission.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, submissionID uuid.UUID, callerID string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:           uuid.NewString(),
		CallerID:     callerID,
		SubmissionID: submissionID,
		conn:         conn,
		send:         make(chan notifications.Event, sendBuffer),
	}
	m.register(c)

	go m.writePump(c)
	m.readPump(c)
	return nil
}

// Publish queues event for every watcher of its submission. Watchers whose
// buffer is full are disconnected rather than blocking the workflow.
func (m *Manager) Publish(_ context.Context, event notifications.Event) error {
	var slow []*Connection

	m.mu.RLock()
	for c := range m.subscribers[event.SubmissionID] {
		select {
		case c.send <- event:
		default:
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range slow {
		m.logger.Warn("Dropping slow websocket client",
			zap.String("connection_id", c.ID),
			zap.String("submission_id", c.SubmissionID.String()))
		m.unregister(c)
	}
	return nil
}

// Subscribers returns how many clients watch submissionID.
func (m *Manager) Subscribers(submissionID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[submissionID])
}

// Close disconnects every client.
func (m *Manager) Close() {
	m.mu.Lock()
	all := []*Connection{}
	for _, conns := range m.subscribers {
		for c := range conns {
			all = append(all, c)
		}
	}
	m.mu.Unlock()

	for _, c := range all {
		m.unregister(c)
	}
}

func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[c.SubmissionID] == nil {
		m.subscribers[c.SubmissionID] = make(map[*Connection]struct{})
	}
	m.subscribers[c.SubmissionID][c] = struct{}{}
}

// unregister removes c and closes its send channel exactly once.
func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.subscribers[c.SubmissionID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(m.subscribers, c.SubmissionID)
	}
	close(c.send)
}

// readPump drains client frames so control messages are processed.
func (m *Manager) readPump(c *Connection) {
	defer func() {
		m.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Websocket read failed", zap.String("connection_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
