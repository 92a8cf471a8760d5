package server

import (
	"encoding/json"
	"log"

	"github.com/gofiber/contrib/websocket"
)

type wsClientMessage struct {
	Type        string  `json:"type"`
	Table       string  `json:"table,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

// gameWebSocketHandler streams round events to a client and accepts bet and
// cash-out messages over the same connection.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	client := s.hub.RegisterClient(conn, userID)
	defer s.hub.UnregisterClient(client)

	// Push the current state so a reconnecting client renders immediately.
	if engine, exists := s.registry.Get(conn.Query("table", "main")); exists {
		client.Send(map[string]interface{}{
			"type": "initial_state",
			"data": engine.Snapshot(),
		})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] read error for user %s: %v", userID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Table == "" {
			msg.Table = "main"
		}

		switch msg.Type {
		case "place_bet":
			engine, exists := s.registry.Get(msg.Table)
			if !exists {
				client.Send(map[string]interface{}{"type": "error", "error": "unknown table"})
				continue
			}
			receipt, err := engine.PlaceBet(userID, msg.Amount, msg.AutoCashout)
			if err != nil {
				client.Send(map[string]interface{}{"type": "bet_rejected", "error": err.Error()})
				continue
			}
			client.Send(map[string]interface{}{"type": "bet_accepted", "data": receipt})

		case "cashout":
			engine, exists := s.registry.Get(msg.Table)
			if !exists {
				client.Send(map[string]interface{}{"type": "error", "error": "unknown table"})
				continue
			}
			result, err := engine.CashOut(userID)
			if err != nil {
				client.Send(map[string]interface{}{"type": "cashout_rejected", "error": err.Error()})
				continue
			}
			client.Send(map[string]interface{}{"type": "cashout_accepted", "data": result})

		case "ping":
			client.Send(map[string]string{"type": "pong"})
		}
	}
}
