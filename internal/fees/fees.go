package fees

import (
	"fmt"
	"math"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
)

// Game settlement and swap constants
const (
	// DefaultGameFeeBps is the protocol fee taken from every settled pot (2.5%)
	DefaultGameFeeBps int64 = 250
	// DefaultSwapFeePercent is charged on the destination gross of every swap
	DefaultSwapFeePercent int64 = 1

	// ChessMicro is the number of stored micro-units in one CHESS (6 decimals)
	ChessMicro int64 = 1_000_000
	// GamePerChess is the fixed exchange rate: 1 CHESS = 10 GAME
	GamePerChess int64 = 10
	// microPerGame is the CHESS micro-units equivalent of 1 GAME
	microPerGame = ChessMicro / GamePerChess

	bpsDenominator int64 = 10_000
)

// Fee returns floor(pot * bps / 10000)
func Fee(pot, bps int64) int64 {
	if pot <= 0 || bps <= 0 {
		return 0
	}
	// split to keep pot*bps from overflowing on large pots
	return (pot/bpsDenominator)*bps + (pot%bpsDenominator)*bps/bpsDenominator
}

// Outcome is the declared result of an active game
type Outcome struct {
	Draw    bool
	Winner  string
	Players [2]string
}

// Win builds a win outcome for winner
func Win(winner string) Outcome {
	return Outcome{Winner: winner}
}

// Draw builds a draw outcome split between both players
func Draw(a, b string) Outcome {
	return Outcome{Draw: true, Players: [2]string{a, b}}
}

// Settlement is the computed split of a pot
type Settlement struct {
	Fee       int64
	Payouts   []models.Payout
	Forfeited int64
}

// Total returns fee + payouts + forfeited, which always equals the pot
func (s Settlement) Total() int64 {
	t := s.Fee + s.Forfeited
	for _, p := range s.Payouts {
		t += p.Amount
	}
	return t
}

// Calculator computes fees and payouts. It has no side effects.
type Calculator struct {
	GameFeeBps     int64
	SwapFeePercent int64
}

// NewCalculator returns a calculator, falling back to defaults for non-positive rates
func NewCalculator(gameFeeBps, swapFeePercent int64) Calculator {
	if gameFeeBps <= 0 {
		gameFeeBps = DefaultGameFeeBps
	}
	if swapFeePercent < 0 || swapFeePercent >= 100 {
		swapFeePercent = DefaultSwapFeePercent
	}
	return Calculator{GameFeeBps: gameFeeBps, SwapFeePercent: swapFeePercent}
}

// Fee returns the protocol fee for pot
func (c Calculator) Fee(pot int64) int64 {
	return Fee(pot, c.GameFeeBps)
}

// Settle splits pot for the given outcome. A win pays pot-fee to the winner; a draw pays
// floor((pot-fee)/2) to each player and forfeits the odd unit, if any.
func (c Calculator) Settle(pot int64, o Outcome) (Settlement, error) {
	if pot <= 0 {
		return Settlement{}, ledgererr.New(ledgererr.InvalidRequest, "pot must be positive, got %d", pot)
	}

	fee := c.Fee(pot)
	prize := pot - fee

	if !o.Draw {
		if o.Winner == "" {
			return Settlement{}, ledgererr.New(ledgererr.InvalidWinner, "winner is required")
		}
		return Settlement{
			Fee:     fee,
			Payouts: []models.Payout{{Account: o.Winner, Amount: prize}},
		}, nil
	}

	if o.Players[0] == "" || o.Players[1] == "" {
		return Settlement{}, ledgererr.New(ledgererr.InvalidRequest, "draw requires both players")
	}
	each := prize / 2
	return Settlement{
		Fee: fee,
		Payouts: []models.Payout{
			{Account: o.Players[0], Amount: each},
			{Account: o.Players[1], Amount: each},
		},
		Forfeited: prize - 2*each,
	}, nil
}

// SwapQuote is the result of converting an amount between tokens. Gross, Fee and Net
// are in destination units (GAME units or CHESS micro-units).
type SwapQuote struct {
	From   models.Token `json:"from_token"`
	To     models.Token `json:"to_token"`
	Amount int64        `json:"amount"`
	Gross  int64        `json:"gross_amount"`
	Fee    int64        `json:"fee"`
	Net    int64        `json:"net_amount"`
	Rate   string       `json:"rate"`
}

// Swap converts amount of from into the other token and applies the swap fee.
// GAME destinations are floored to whole units; CHESS destinations keep micro precision.
func (c Calculator) Swap(from models.Token, amount int64) (SwapQuote, error) {
	if !from.Valid() {
		return SwapQuote{}, ledgererr.New(ledgererr.InvalidSwap, "unknown token %q", from)
	}
	if amount <= 0 {
		return SwapQuote{}, ledgererr.New(ledgererr.InvalidSwap, "amount must be positive")
	}

	pct := c.SwapFeePercent
	q := SwapQuote{From: from, To: from.Other(), Amount: amount, Rate: RateString(from)}

	switch from {
	case models.TokenGame:
		if amount > math.MaxInt64/microPerGame {
			return SwapQuote{}, ledgererr.New(ledgererr.InvalidSwap, "amount too large")
		}
		q.Gross = amount * microPerGame
		q.Fee = q.Gross * pct / 100
		q.Net = q.Gross - q.Fee
	case models.TokenChess:
		if amount > math.MaxInt64/(GamePerChess*100) {
			return SwapQuote{}, ledgererr.New(ledgererr.InvalidSwap, "amount too large")
		}
		q.Gross = amount * GamePerChess / ChessMicro
		// net is floored once from the exact value; the fee is whatever the floor leaves
		q.Net = amount * GamePerChess * (100 - pct) / (ChessMicro * 100)
		q.Fee = q.Gross - q.Net
	}
	return q, nil
}

// GameEquivalent converts a source amount into GAME units for the daily ceiling,
// rounding CHESS up so fractional swaps still count.
func GameEquivalent(from models.Token, amount int64) int64 {
	if from == models.TokenGame {
		return amount
	}
	return (amount*GamePerChess + ChessMicro - 1) / ChessMicro
}

// RateString describes the conversion rate from the given token
func RateString(from models.Token) string {
	if from == models.TokenGame {
		return fmt.Sprintf("1 GAME = %s CHESS", FormatChess(microPerGame))
	}
	return fmt.Sprintf("1 CHESS = %d GAME", GamePerChess)
}

// FormatChess renders micro-units as a decimal CHESS amount
func FormatChess(micro int64) string {
	sign := ""
	if micro < 0 {
		sign = "-"
		micro = -micro
	}
	whole := micro / ChessMicro
	frac := micro % ChessMicro
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	s := fmt.Sprintf("%s%d.%06d", sign, whole, frac)
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}
