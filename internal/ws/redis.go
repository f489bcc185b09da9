package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/chessdao/backend/internal/events"
	"github.com/redis/go-redis/v9"
)

// StartEventSubscriber subscribes to the game_events channel and broadcasts incoming
// events to the watchers of each game. It returns once the subscription is set up.
func StartEventSubscriber(ctx context.Context, rdb *redis.Client, h *Hub) {
	if rdb == nil {
		log.Println("[WS] Redis client not set; event subscriber not started")
		return
	}

	pubsub := rdb.Subscribe(ctx, events.Channel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[WS] %s subscriber started", events.Channel)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				dispatchEvent(h, []byte(msg.Payload))
			}
		}
	}()
}

func dispatchEvent(h *Hub, payload []byte) {
	var ev events.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("[WS] invalid event payload: %v", err)
		return
	}
	if ev.GameID == "" {
		return
	}

	if h.RoomSize(ev.GameID) == 0 {
		return
	}
	log.Printf("[WS] broadcasting %s for game %s (room_size=%d)", ev.Type, ev.GameID, h.RoomSize(ev.GameID))
	h.BroadcastToGame(ev.GameID, ev)
}
