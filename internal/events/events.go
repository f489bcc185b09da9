package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chessdao/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel settlement events are published on
const Channel = "game_events"

// Event types
const (
	GameCreated   = "game_created"
	GameJoined    = "game_joined"
	GameCompleted = "game_completed"
	GameDraw      = "game_draw"
	GameCancelled = "game_cancelled"
	GameTimeout   = "game_timeout"
	SwapExecuted  = "swap_executed"
)

// Event is one state change broadcast to websocket subscribers
type Event struct {
	Type     string                 `json:"type"`
	GameID   string                 `json:"game_id,omitempty"`
	Account  string                 `json:"account,omitempty"`
	Game     *models.Game           `json:"game,omitempty"`
	Exchange *models.ExchangeRecord `json:"exchange,omitempty"`
	At       time.Time              `json:"at"`
}

// ForGame builds the event for a game's current status
func ForGame(g *models.Game, at time.Time) Event {
	t := GameCreated
	switch g.Status {
	case models.StatusActive:
		t = GameJoined
	case models.StatusCompleted:
		t = GameCompleted
	case models.StatusDraw:
		t = GameDraw
	case models.StatusCancelled:
		t = GameCancelled
	case models.StatusTimeout:
		t = GameTimeout
	}
	return Event{Type: t, GameID: g.ID, Game: g, At: at}
}

// Publisher delivers events. Publishing is best effort: callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisPublisher publishes JSON events to a Redis channel
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher publishes on Channel
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: Channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of each published event, in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
