package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"translatemenu/internal/correlation"
)

const (
	wsWriteWait  = 7 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 25 * time.Second
)

var generationWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Token-authenticated; browser origins vary across deployments.
		return true
	},
}

// GenerationHub pushes image_ready events to websocket clients watching a
// generation. It implements imagegen.Notifier.
type GenerationHub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*hubClient]struct{}
	logger *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewGenerationHub(logger *slog.Logger) *GenerationHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationHub{
		rooms:  map[string]map[*hubClient]struct{}{},
		logger: logger.With("component", "generation_hub"),
	}
}

func (h *GenerationHub) add(generationID string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[generationID]
	if room == nil {
		room = map[*hubClient]struct{}{}
		h.rooms[generationID] = room
	}
	room[c] = struct{}{}
}

func (h *GenerationHub) remove(generationID string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[generationID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, generationID)
	}
}

func (h *GenerationHub) list(generationID string) []*hubClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[generationID]
	out := make([]*hubClient, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

func (h *GenerationHub) broadcast(generationID string, payload any) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	sent := 0
	for _, c := range h.list(generationID) {
		if err := c.writeText(raw); err != nil {
			h.remove(generationID, c)
			_ = c.close()
			continue
		}
		sent++
	}
	return sent
}

// ImageReady tells everyone watching the generation that an image landed.
func (h *GenerationHub) ImageReady(ctx context.Context, id correlation.ID) {
	if h == nil {
		return
	}
	sent := h.broadcast(id.GenerationID, map[string]any{
		"type":          "image_ready",
		"generation_id": id.GenerationID,
		"image":         id.String(),
		"at":            time.Now().UTC().Format(time.RFC3339),
	})
	h.logger.DebugContext(ctx, "image_ready broadcast", "image", id.String(), "clients", sent)
}

func (c *hubClient) writeText(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *hubClient) writeJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeText(raw)
}

func (c *hubClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait))
}

func (c *hubClient) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (s *Server) handleGenerationEvents(w http.ResponseWriter, r *http.Request) {
	g, ok := s.ownedGeneration(w, r)
	if !ok {
		return
	}

	conn, err := generationWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "ws upgrade failed", "generation_id", g.ID, "error", err)
		return
	}

	client := &hubClient{conn: conn}
	s.hub.add(g.ID, client)
	defer func() {
		s.hub.remove(g.ID, client)
		_ = client.close()
	}()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	_ = client.writeJSON(map[string]any{
		"type":          "hello",
		"generation_id": g.ID,
		"at":            time.Now().UTC().Format(time.RFC3339),
	})

	// Clients never send anything useful; reading keeps pongs flowing and
	// notices the close.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}
