package dispatch

import (
	"context"

	"github.com/chessdao/backend/internal/escrow"
	"github.com/chessdao/backend/internal/fees"
	"github.com/chessdao/backend/internal/models"
)

// Escrow is the game state machine the dispatcher drives
type Escrow interface {
	Create(ctx context.Context, p escrow.CreateParams) (*models.Game, error)
	Join(ctx context.Context, gameID, opponent string) (*models.Game, error)
	Resolve(ctx context.Context, gameID string, outcome fees.Outcome) (*models.Game, error)
	Cancel(ctx context.Context, gameID, requester string) (*models.Game, error)
	ClaimTimeout(ctx context.Context, gameID, claimant string) (*models.Game, error)
}

// Exchange is the swap engine the dispatcher drives
type Exchange interface {
	Swap(ctx context.Context, account string, from models.Token, amount int64) (*models.ExchangeRecord, error)
}

// Result is returned for every accepted request. Payout is the total owed by the game's
// terminal transition; it has been credited only when Settled is true, otherwise
// reconciliation pays it. For swaps it is the net amount in destination units.
type Result struct {
	Status   string                 `json:"status"`
	Payout   int64                  `json:"payout"`
	Fee      int64                  `json:"fee"`
	Settled  bool                   `json:"settled"`
	Game     *models.Game           `json:"game,omitempty"`
	Exchange *models.ExchangeRecord `json:"exchange,omitempty"`
}

// Dispatcher validates requests before any state is read and forwards them to escrow or
// exchange
type Dispatcher struct {
	escrow   Escrow
	exchange Exchange
}

// New creates a dispatcher
func New(e Escrow, x Exchange) *Dispatcher {
	return &Dispatcher{escrow: e, exchange: x}
}

func (d *Dispatcher) CreateGame(ctx context.Context, r CreateGameRequest) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	g, err := d.escrow.Create(ctx, escrow.CreateParams{Creator: r.Creator, Stake: r.Stake, TimeControl: r.TimeControl, Title: r.Title})
	if err != nil {
		return nil, err
	}
	return gameResult(g), nil
}

func (d *Dispatcher) JoinGame(ctx context.Context, r JoinGameRequest) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	g, err := d.escrow.Join(ctx, r.GameID, r.Opponent)
	if err != nil {
		return nil, err
	}
	return gameResult(g), nil
}

func (d *Dispatcher) ResolveGame(ctx context.Context, r ResolveGameRequest) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	outcome := fees.Win(r.Winner)
	if r.Outcome == OutcomeDraw {
		outcome = fees.Outcome{Draw: true}
	}
	g, err := d.escrow.Resolve(ctx, r.GameID, outcome)
	if err != nil {
		return nil, err
	}
	return gameResult(g), nil
}

func (d *Dispatcher) CancelGame(ctx context.Context, r CancelGameRequest) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	g, err := d.escrow.Cancel(ctx, r.GameID, r.Requester)
	if err != nil {
		return nil, err
	}
	return gameResult(g), nil
}

func (d *Dispatcher) ClaimTimeout(ctx context.Context, r TimeoutClaimRequest) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	g, err := d.escrow.ClaimTimeout(ctx, r.GameID, r.Claimant)
	if err != nil {
		return nil, err
	}
	return gameResult(g), nil
}

func (d *Dispatcher) Swap(ctx context.Context, r SwapRequest) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rec, err := d.exchange.Swap(ctx, r.Account, r.FromToken, r.Amount)
	if err != nil {
		return nil, err
	}
	return &Result{Status: "executed", Payout: rec.NetAmount, Fee: rec.Fee, Settled: true, Exchange: rec}, nil
}

func gameResult(g *models.Game) *Result {
	var paid int64
	for _, p := range g.Payouts {
		paid += p.Amount
	}
	return &Result{Status: string(g.Status), Payout: paid, Fee: g.Fee, Settled: g.Settled, Game: g}
}
