package handlers

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// realtimeHub fans realtime events out to every open WS connection of a
// client workspace.
type realtimeHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *realtimeHub) add(clientID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(clientID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[clientID]
	if m == nil {
		m = make(map[*websocket.Conn]struct{})
		h.conns[clientID] = m
	}
	m[c] = struct{}{}
}

func (h *realtimeHub) remove(clientID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(clientID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[clientID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, clientID)
	}
}

func (h *realtimeHub) broadcast(clientID string, msg []byte) {
	if h == nil || strings.TrimSpace(clientID) == "" || len(msg) == 0 {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, 8)
	for c := range h.conns[clientID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := websocket.Message.Send(c, string(msg)); err != nil {
			_ = c.Close()
			h.remove(clientID, c)
		}
	}
}

func (h *realtimeHub) count(clientID string) int {
	if h == nil || strings.TrimSpace(clientID) == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[clientID])
}

func isLocalhostRemoteAddr(remoteAddr string) bool {
	host := remoteAddr
	if hp, _, err := net.SplitHostPort(remoteAddr); err == nil && hp != "" {
		host = hp
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// internalWSAllowed gates the backend WS endpoint. In production set
// INTERNAL_WS_SECRET and send it via X-Internal-WS-Secret from the edge
// proxy. Loopback connections are always allowed for local development.
func internalWSAllowed(r *http.Request) bool {
	sec := strings.TrimSpace(os.Getenv("INTERNAL_WS_SECRET"))
	if isLocalhostRemoteAddr(r.RemoteAddr) {
		return true
	}
	if sec == "" {
		return false
	}
	return strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret")) == sec
}

func internalWSDebug(r *http.Request) map[string]any {
	sec := strings.TrimSpace(os.Getenv("INTERNAL_WS_SECRET"))
	hdr := strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret"))
	secSet := sec != ""
	hasHeader := hdr != ""
	return map[string]any{
		"remote":      r.RemoteAddr,
		"host":        r.Host,
		"loopback":    isLocalhostRemoteAddr(r.RemoteAddr),
		"secSet":      secSet,
		"hasHeader":   hasHeader,
		"headerMatch": secSet && hasHeader && hdr == sec,
	}
}

// EventsPing is a non-WS endpoint used to debug internal WS auth from the proxy.
// URL: /api/events/ping
func (h *Handler) EventsPing(w http.ResponseWriter, r *http.Request) {
	resp := internalWSDebug(r)
	resp["ok"] = internalWSAllowed(r)
	if resp["ok"] != true {
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type realtimeEvent struct {
	Type string `json:"type"`

	ClientID  string `json:"clientId"`
	ContentID string `json:"contentId,omitempty"`

	Status         string   `json:"status,omitempty"`
	ProviderPostID string   `json:"providerPostId,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
	At             string   `json:"at"`
}

// EventsWebSocket streams lifecycle and publish events for one client
// workspace. Internal endpoint, meant to be proxied by the edge worker.
//
// URL: /api/events/ws?clientId=...
// Auth: X-Internal-WS-Secret (or localhost-only if INTERNAL_WS_SECRET is unset)
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if !internalWSAllowed(r) {
		d := internalWSDebug(r)
		log.Printf("[RealtimeWS] forbidden remote=%v host=%v loopback=%v secSet=%v hasHeader=%v headerMatch=%v",
			d["remote"], d["host"], d["loopback"], d["secSet"], d["hasHeader"], d["headerMatch"])
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("clientId"))
	if clientID == "" {
		http.Error(w, "missing_clientId", http.StatusBadRequest)
		return
	}

	// The default origin check in golang.org/x/net/websocket returns 403
	// when Origin doesn't match Host. This WS is internal, so accept any
	// origin; auth happened above.
	wsServer := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(c *websocket.Conn) {
			log.Printf("[RealtimeWS] connect clientId=%s remote=%s ua=%q", clientID, r.RemoteAddr, truncate(r.UserAgent(), 120))
			if h != nil && h.rt != nil {
				h.rt.add(clientID, c)
				defer h.rt.remove(clientID, c)
			}
			defer log.Printf("[RealtimeWS] disconnect clientId=%s remote=%s", clientID, r.RemoteAddr)

			hello := realtimeEvent{
				Type:     "hello",
				ClientID: clientID,
				At:       time.Now().UTC().Format(time.RFC3339),
			}
			if b, err := json.Marshal(hello); err == nil {
				_ = websocket.Message.Send(c, string(b))
			}

			// Read loop keeps the connection open and detects disconnects.
			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					break
				}
			}
		},
	}

	wsServer.ServeHTTP(w, r)
}

func (h *Handler) emitEvent(clientID string, ev realtimeEvent) {
	if h == nil || h.rt == nil || strings.TrimSpace(clientID) == "" {
		return
	}
	ev.ClientID = clientID
	if strings.TrimSpace(ev.At) == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Realtime] marshal_failed clientId=%s err=%v", clientID, err)
		return
	}
	log.Printf("[Realtime] emit clientId=%s type=%s contentId=%s status=%s subs=%d",
		clientID, ev.Type, ev.ContentID, ev.Status, h.rt.count(clientID))
	h.rt.broadcast(clientID, b)
}
