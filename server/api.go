package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/quantpulse/flowdesk/exec"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADMIN HTTP API
// ═══════════════════════════════════════════════════════════════════════════════

// API routes the admin surface: health, exchange info, execution control
// and the dashboard websocket.
type API struct {
	hub      *Hub
	ws       *WSHandler
	session  *exec.Session
	exchInfo *exec.ExchangeInfoCache
	started  time.Time
}

// NewAPI creates the admin API.
func NewAPI(hub *Hub, ws *WSHandler, session *exec.Session, exchInfo *exec.ExchangeInfoCache) *API {
	return &API{
		hub:      hub,
		ws:       ws,
		session:  session,
		exchInfo: exchInfo,
		started:  time.Now(),
	}
}

// Router builds the mux router with all routes attached.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/ws", a.ws)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/testnet/exchange-info", a.handleExchangeInfo).Methods(http.MethodGet)

	r.HandleFunc("/api/execution/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/execution/connect", a.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/api/execution/disconnect", a.handleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/execution/enabled", a.handleEnabled).Methods(http.MethodPost)
	r.HandleFunc("/api/execution/settings", a.handleSettings).Methods(http.MethodPost)
	r.HandleFunc("/api/execution/symbol", a.handleSymbol).Methods(http.MethodPost)

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(a.started).Seconds()),
		"subscribers":   a.hub.Count(),
	})
}

func (a *API) handleExchangeInfo(w http.ResponseWriter, r *http.Request) {
	raw, err := a.exchInfo.Raw(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Exchange info fetch failed")
		writeError(w, http.StatusBadGateway, "exchange info unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw) //nolint:errcheck
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Status())
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey    string `json:"apiKey"`
		APISecret string `json:"apiSecret"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.session.Connect(body.APIKey, body.APISecret); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.session.Status())
}

func (a *API) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	a.session.Disconnect()
	writeJSON(w, http.StatusOK, a.session.Status())
}

func (a *API) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.session.SetEnabled(body.Enabled); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.session.Status())
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	var body exec.Settings
	if !decodeBody(w, r, &body) {
		return
	}
	applied, err := a.session.ApplySettings(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (a *API) handleSymbol(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.session.SetSymbol(body.Symbol); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.session.Status())
}

// ── helpers ───────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
