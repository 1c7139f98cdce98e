package web_interface

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// Message is the envelope pushed to dashboard clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WebUI serves the live dashboard page and pushes status snapshots to
// connected browsers over a websocket.
type WebUI struct {
	addr     string
	snapshot func() models.StatusSnapshot
	logger   logging.LoggerInterface

	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan Message

	httpServer *http.Server
}

// NewWebUI builds the dashboard server.
func NewWebUI(addr string, snapshot func() models.StatusSnapshot, logger logging.LoggerInterface) *WebUI {
	return &WebUI{
		addr:     addr,
		snapshot: snapshot,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboard is bound to localhost, cross-origin is fine
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 16),
	}
}

// Start launches the HTTP listener, the broadcast pump and the periodic
// snapshot push.
func (w *WebUI) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handleIndex)
	mux.HandleFunc("/ws", w.handleWS)

	w.httpServer = &http.Server{Addr: w.addr, Handler: mux}

	go w.handleBroadcasts(ctx)
	go w.startPeriodicUpdates(ctx)
	go func() {
		w.logger.Info("Dashboard démarré sur %s", w.addr)
		if err := w.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("Dashboard arrêté: %v", err)
		}
	}()
}

// Stop shuts the dashboard down.
func (w *WebUI) Stop(ctx context.Context) error {
	if w.httpServer == nil {
		return nil
	}
	return w.httpServer.Shutdown(ctx)
}

func (w *WebUI) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warning("Upgrade websocket refusé: %v", err)
		return
	}

	// first snapshot before the client joins the broadcast set; after
	// registration only the broadcast pump may write to the conn
	_ = conn.WriteJSON(Message{Type: "dashboard_update", Data: w.snapshot()})

	w.clientsMu.Lock()
	w.clients[conn] = true
	w.clientsMu.Unlock()

	// drain client messages to notice disconnects
	go func() {
		defer func() {
			w.clientsMu.Lock()
			delete(w.clients, conn)
			w.clientsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (w *WebUI) handleIndex(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = rw.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>GOLD-HFT</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { color: #d4af37; }
table { border-collapse: collapse; }
td { padding: 4px 12px; border-bottom: 1px solid #333; }
.bad { color: #e05555; }
.good { color: #55c05f; }
</style>
</head>
<body>
<h1>GOLD-HFT</h1>
<table id="t"></table>
<script>
const rows = [
  ["symbol","Symbole"],["uptime","Uptime"],["trend_bias","Tendance"],
  ["htf_confidence","Confiance HTF %"],["open_positions","Positions ouvertes"],
  ["closed_trades","Trades clos"],["cycles_run","Cycles"],["paused","En pause"]
];
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const msg = JSON.parse(ev.data);
  if (msg.type !== "dashboard_update") return;
  const d = msg.data;
  let html = "";
  for (const [key, label] of rows) {
    html += "<tr><td>" + label + "</td><td>" + d[key] + "</td></tr>";
  }
  html += "<tr><td>P&L journalier</td><td>" + d.risk.daily_pnl.toFixed(2) + "$</td></tr>";
  html += "<tr><td>Circuit breaker</td><td class='" + (d.risk.circuit_breaker_active ? "bad'>ACTIF: " + d.risk.circuit_breaker_reason : "good'>inactif") + "</td></tr>";
  html += "<tr><td>Sweep</td><td>" + (d.sweep.active ? d.sweep.direction + " " + d.sweep.phase + " " + d.sweep.orders_placed + "/" + d.sweep.max_orders : "aucun") + "</td></tr>";
  document.getElementById("t").innerHTML = html;
};
</script>
</body>
</html>`
