package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET ENDPOINT - /ws?symbols=BTCUSDT,ETHUSDT
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// WSHandler upgrades dashboard connections and pumps envelopes from a hub
// subscription to the socket.
type WSHandler struct {
	hub           *Hub
	knownSymbols  map[string]struct{}
	originAllowed func(origin string) bool
}

// NewWSHandler creates the /ws handler. originAllowed may be nil to accept
// any origin.
func NewWSHandler(hub *Hub, symbols []string, originAllowed func(string) bool) *WSHandler {
	known := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		known[strings.ToUpper(s)] = struct{}{}
	}
	return &WSHandler{
		hub:           hub,
		knownSymbols:  known,
		originAllowed: originAllowed,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbols := h.parseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		http.Error(w, `{"error":"no known symbols requested"}`, http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if h.originAllowed == nil {
				return true
			}
			return h.originAllowed(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := h.hub.Subscribe(symbols)
	log.Info().Strs("symbols", symbols).Str("remote", r.RemoteAddr).
		Msg("📺 Dashboard subscriber connected")

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// parseSymbols filters the requested CSV against the tracked symbol set.
func (h *WSHandler) parseSymbols(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		if _, ok := h.knownSymbols[sym]; ok {
			out = append(out, sym)
		}
	}
	return out
}

// writePump drains the subscription queue onto the socket.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *Subscription) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case env := <-sub.Queue():
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
			if err := conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Msg("Subscriber write failed")
				h.hub.Unsubscribe(sub)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Unsubscribe(sub)
				return
			}
		case <-sub.Done():
			// Hub closed us (drop limit) or unsubscribe elsewhere.
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow")
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
			conn.WriteMessage(websocket.CloseMessage, msg)        //nolint:errcheck
			return
		}
	}
}

// readPump discards inbound frames, keeps the pong deadline fresh and
// unsubscribes when the peer goes away.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *Subscription) {
	defer h.hub.Unsubscribe(sub)
	defer conn.Close()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
