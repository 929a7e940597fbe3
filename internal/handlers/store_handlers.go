package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
	ws "github.com/Dhrumil1411/Web-Chat-App/internal/websocket"
	"github.com/Dhrumil1411/Web-Chat-App/pkg/logger"

	"github.com/gorilla/websocket"
)

type StoreHandlers struct {
	store    store.Store
	upgrader websocket.Upgrader
}

func NewStoreHandlers(st store.Store) *StoreHandlers {
	return &StoreHandlers{
		store: st,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *StoreHandlers) HandleStore(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	client := ws.NewConn(conn, h.store)
	go client.WritePump()
	go client.ReadPump()
}

func (h *StoreHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
