package dispatch

import (
	"regexp"
	"strings"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
	"github.com/google/uuid"
)

// Outcome values accepted by ResolveGameRequest
const (
	OutcomeWin  = "win"
	OutcomeDraw = "draw"
)

const maxTitleLength = 100

var timeControlPattern = regexp.MustCompile(`^\d{1,3}\+\d{1,3}$`)

// CreateGameRequest opens a new wager. Creator comes from the authenticated caller.
type CreateGameRequest struct {
	Creator     string `json:"-"`
	Stake       int64  `json:"stake"`
	TimeControl string `json:"time_control"`
	Title       string `json:"title"`
}

func (r CreateGameRequest) Validate() error {
	if r.Creator == "" {
		return invalid("creator is required")
	}
	if r.Stake <= 0 {
		return invalid("stake must be a positive integer")
	}
	if r.TimeControl != "" && !timeControlPattern.MatchString(r.TimeControl) {
		return invalid("time_control must look like 10+0")
	}
	if len(r.Title) > maxTitleLength {
		return invalid("title is too long")
	}
	return nil
}

// JoinGameRequest puts the caller into a waiting game
type JoinGameRequest struct {
	GameID   string `json:"game_id"`
	Opponent string `json:"-"`
}

func (r JoinGameRequest) Validate() error {
	if err := validGameID(r.GameID); err != nil {
		return err
	}
	if r.Opponent == "" {
		return invalid("opponent is required")
	}
	return nil
}

// ResolveGameRequest is sent by the chess-rules layer when a match ends
type ResolveGameRequest struct {
	GameID  string `json:"game_id"`
	Outcome string `json:"outcome"`
	Winner  string `json:"winner,omitempty"`
}

func (r ResolveGameRequest) Validate() error {
	if err := validGameID(r.GameID); err != nil {
		return err
	}
	switch r.Outcome {
	case OutcomeWin:
		if strings.TrimSpace(r.Winner) == "" {
			return invalid("winner is required for a win")
		}
	case OutcomeDraw:
		if r.Winner != "" {
			return invalid("a draw has no winner")
		}
	default:
		return invalid("outcome must be win or draw")
	}
	return nil
}

// CancelGameRequest withdraws a waiting game
type CancelGameRequest struct {
	GameID    string `json:"game_id"`
	Requester string `json:"-"`
}

func (r CancelGameRequest) Validate() error {
	if err := validGameID(r.GameID); err != nil {
		return err
	}
	if r.Requester == "" {
		return invalid("requester is required")
	}
	return nil
}

// TimeoutClaimRequest claims the pot of a game that ran past its timeout
type TimeoutClaimRequest struct {
	GameID   string `json:"game_id"`
	Claimant string `json:"-"`
}

func (r TimeoutClaimRequest) Validate() error {
	if err := validGameID(r.GameID); err != nil {
		return err
	}
	if r.Claimant == "" {
		return invalid("claimant is required")
	}
	return nil
}

// SwapRequest converts between GAME and CHESS. Amount is in source units
// (GAME units or CHESS micro-units).
type SwapRequest struct {
	Account   string       `json:"-"`
	FromToken models.Token `json:"from_token"`
	Amount    int64        `json:"amount"`
}

func (r SwapRequest) Validate() error {
	if r.Account == "" {
		return invalid("account is required")
	}
	if !r.FromToken.Valid() {
		return invalid("from_token must be GAME or CHESS")
	}
	return nil
}

func validGameID(id string) error {
	if id == "" {
		return invalid("game_id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid("game_id is not a valid id")
	}
	return nil
}

func invalid(msg string) error {
	return ledgererr.New(ledgererr.InvalidRequest, "%s", msg)
}
