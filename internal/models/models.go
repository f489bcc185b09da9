package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// GameStatus is the lifecycle state of a wagered game
type GameStatus string

const (
	StatusWaiting   GameStatus = "waiting"
	StatusActive    GameStatus = "active"
	StatusCompleted GameStatus = "completed"
	StatusDraw      GameStatus = "draw"
	StatusCancelled GameStatus = "cancelled"
	StatusTimeout   GameStatus = "timeout"
)

// IsTerminal reports whether no further transition is possible
func (s GameStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDraw, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s GameStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusDraw, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Payout is one balance credit owed by a terminal game
type Payout struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
	Paid    bool   `json:"paid"`
}

// Game represents one wagered match. Amounts are in GAME token units.
type Game struct {
	ID          string     `json:"id"`
	Creator     string     `json:"creator"`
	Opponent    string     `json:"opponent,omitempty"`
	JoinKey     string     `json:"join_key,omitempty"`
	Stake       int64      `json:"stake"`
	Pot         int64      `json:"pot"`
	Status      GameStatus `json:"status"`
	Winner      string     `json:"winner,omitempty"`
	TimeControl string     `json:"time_control"`
	Title       string     `json:"title"`
	Fee         int64      `json:"fee"`
	Payouts     []Payout   `json:"payouts,omitempty"`
	Forfeited   int64      `json:"forfeited"`
	Settled     bool       `json:"settled"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// HasPlayer reports whether account is the creator or the opponent
func (g *Game) HasPlayer(account string) bool {
	return account != "" && (account == g.Creator || account == g.Opponent)
}

// SettlementKey is the idempotency key for the credits of the game's terminal transition
func (g *Game) SettlementKey() string {
	return g.ID + ":" + string(g.Status)
}

// PayoutTo returns the amount owed to account by this game
func (g *Game) PayoutTo(account string) int64 {
	var total int64
	for _, p := range g.Payouts {
		if p.Account == account {
			total += p.Amount
		}
	}
	return total
}

// Token identifies one of the two balances an account holds
type Token string

const (
	// TokenGame is the internal unit-denominated token used for wagers
	TokenGame Token = "GAME"
	// TokenChess is the bridged token, tracked in micro-units (6 decimals)
	TokenChess Token = "CHESS"
)

// Valid reports whether t is a known token
func (t Token) Valid() bool {
	return t == TokenGame || t == TokenChess
}

// Other returns the opposite token of a swap pair
func (t Token) Other() Token {
	if t == TokenGame {
		return TokenChess
	}
	return TokenGame
}

// UserBalance holds both token balances of an account
type UserBalance struct {
	Account string `json:"account"`
	Game    int64  `json:"game"`
	Chess   int64  `json:"chess"`
	// SwapDay/SwappedToday track the daily exchange ceiling (GAME-equivalent units, UTC day)
	SwapDay      string `json:"swap_day,omitempty"`
	SwappedToday int64  `json:"swapped_today"`
	// Applied holds the most recent idempotency keys already applied to this balance
	Applied         []string        `json:"applied,omitempty"`
	PendingExchange *ExchangeRecord `json:"pending_exchange,omitempty"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// Of returns the balance of the given token
func (b *UserBalance) Of(t Token) int64 {
	if t == TokenChess {
		return b.Chess
	}
	return b.Game
}

// Add adjusts the balance of the given token by delta
func (b *UserBalance) Add(t Token, delta int64) {
	if t == TokenChess {
		b.Chess += delta
		return
	}
	b.Game += delta
}

// HasApplied reports whether key was already applied to this balance
func (b *UserBalance) HasApplied(key string) bool {
	for _, k := range b.Applied {
		if k == key {
			return true
		}
	}
	return false
}

// DeliveryStatus tracks on-chain delivery of bridged tokens
type DeliveryStatus string

const (
	DeliveryNone      DeliveryStatus = "none"
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ExchangeRecord is the append-only ledger entry for one executed swap.
// GrossAmount, Fee and NetAmount are in destination token units.
type ExchangeRecord struct {
	ID          string         `json:"id"`
	Account     string         `json:"account"`
	FromToken   Token          `json:"from_token"`
	ToToken     Token          `json:"to_token"`
	Amount      int64          `json:"amount"`
	Rate        string         `json:"rate"`
	GrossAmount int64          `json:"gross_amount"`
	Fee         int64          `json:"fee"`
	NetAmount   int64          `json:"net_amount"`
	Delivery    DeliveryStatus `json:"delivery"`
	DeliveryRef string         `json:"delivery_ref,omitempty"`
	Attempts    int            `json:"delivery_attempts,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AdminAccount is an operator allowed to call the admin API
type AdminAccount struct {
	Name        string         `db:"name" json:"name"`
	DisplayName string         `db:"display_name" json:"display_name"`
	TokenHash   string         `db:"token_hash" json:"-"`
	Roles       pq.StringArray `db:"roles" json:"roles"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// AdminAudit is one recorded admin action
type AdminAudit struct {
	ID        int             `db:"id" json:"id"`
	AdminName string          `db:"admin_name" json:"admin_name"`
	IP        string          `db:"ip" json:"ip"`
	Route     string          `db:"route" json:"route"`
	Action    string          `db:"action" json:"action"`
	Details   json.RawMessage `db:"details" json:"details"`
	Success   bool            `db:"success" json:"success"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
