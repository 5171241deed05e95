package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsWS upgrades GET /events/ws to a websocket connection and
// streams every subsequent eventbus.Event to the client until it
// disconnects. There is no replay buffer — a client reconnecting after a
// gap has missed whatever fired while it was down.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		respondError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	subscriberID := "ws-" + time.Now().Format("150405.000000000")
	sub := s.bus.Subscribe(subscriberID, nil)
	defer s.bus.Unsubscribe(subscriberID)

	// Drain client reads in the background; rigs's protocol is server-push
	// only, but we still need to notice when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-sub.Channel:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
