package web_interface

import (
	"context"
	"time"
)

// handleBroadcasts fans queued messages out to every connected client,
// dropping clients whose write fails.
func (w *WebUI) handleBroadcasts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.broadcast:
			w.clientsMu.Lock()
			for client := range w.clients {
				if err := client.WriteJSON(msg); err != nil {
					w.logger.Debug("Client dashboard déconnecté: %v", err)
					delete(w.clients, client)
					client.Close()
				}
			}
			w.clientsMu.Unlock()
		}
	}
}

// startPeriodicUpdates queues a fresh snapshot every five seconds. A
// full broadcast channel means clients are behind; the update is
// skipped rather than letting the queue grow.
func (w *WebUI) startPeriodicUpdates(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.broadcast <- Message{Type: "dashboard_update", Data: w.snapshot()}:
			default:
				w.logger.Debug("File de diffusion pleine, mise à jour ignorée")
			}
		}
	}
}
