package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketHandler is the live, human-attended Handler named in spec §6:
// every Checkpoint is broadcast to connected UI clients over a websocket
// and HandleCheckpoint blocks until a matching Decision arrives through
// Resolve, or ctx is canceled.
type WebSocketHandler struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	pending map[string]chan Decision

	ctx context.Context
}

// NewWebSocketHandler builds a handler whose blocking waits are bound by
// ctx (typically the process lifetime context), so an abandoned checkpoint
// doesn't hang forever.
func NewWebSocketHandler(ctx context.Context) *WebSocketHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &WebSocketHandler{
		clients: make(map[*websocket.Conn]struct{}),
		pending: make(map[string]chan Decision),
		ctx:     ctx,
	}
}

// AddClient registers conn to receive broadcast checkpoints. It does not
// watch the connection; the caller removes it with RemoveClient.
func (h *WebSocketHandler) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

// RemoveClient unregisters conn.
func (h *WebSocketHandler) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *WebSocketHandler) broadcast(cp Checkpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(cp); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// checkpointKey disambiguates concurrent checkpoints from different
// sessions; a single session never has two checkpoints in flight at once
// since the Engine awaits HandleCheckpoint before continuing.
func checkpointKey(cp Checkpoint) string {
	return cp.SessionID + ":" + string(cp.Kind)
}

// HandleCheckpoint broadcasts cp to every connected client and blocks
// until Resolve delivers a Decision for the same session and kind.
func (h *WebSocketHandler) HandleCheckpoint(cp Checkpoint) (Decision, error) {
	key := checkpointKey(cp)
	ch := make(chan Decision, 1)

	h.mu.Lock()
	h.pending[key] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, key)
		h.mu.Unlock()
	}()

	h.broadcast(cp)

	select {
	case decision := <-ch:
		return decision, nil
	case <-h.ctx.Done():
		return Decision{}, fmt.Errorf("hitl: websocket handler context canceled while awaiting %s", key)
	}
}

// Resolve delivers a human's decision for the checkpoint named by
// sessionID/kind, unblocking the matching HandleCheckpoint call. It
// reports false if no checkpoint is currently waiting under that key.
func (h *WebSocketHandler) Resolve(sessionID string, kind CheckpointKind, decision Decision) bool {
	key := sessionID + ":" + string(kind)
	h.mu.Lock()
	ch, ok := h.pending[key]
	h.mu.Unlock()
	if !ok {
		return false
	}
	ch <- decision
	return true
}

// DecodeDecision parses a Decision posted by the HTTP collaborator surface.
func DecodeDecision(raw []byte) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, fmt.Errorf("hitl: decoding decision: %w", err)
	}
	return d, nil
}
