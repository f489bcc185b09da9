package escrow

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/chessdao/backend/internal/accounts"
	"github.com/chessdao/backend/internal/events"
	"github.com/chessdao/backend/internal/fees"
	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
	"github.com/chessdao/backend/internal/store"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Defaults used when Config leaves a field zero
const (
	DefaultTimeout     = 30 * time.Minute
	DefaultTimeControl = "10+0"
	DefaultMinStake    = int64(1)
)

// Config holds the escrow rules
type Config struct {
	Timeout  time.Duration
	MinStake int64
	Attempts int
}

// Service owns the lifecycle of wagered games. Stakes are held in GAME units.
type Service struct {
	store  store.Store
	ledger *accounts.Ledger
	calc   fees.Calculator
	clock  clockwork.Clock
	events events.Publisher
	cfg    Config
}

// NewService wires the escrow state machine
func NewService(s store.Store, ledger *accounts.Ledger, calc fees.Calculator, clock clockwork.Clock, pub events.Publisher, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinStake <= 0 {
		cfg.MinStake = DefaultMinStake
	}
	return &Service{store: s, ledger: ledger, calc: calc, clock: clock, events: pub, cfg: cfg}
}

// Timeout returns how long an active game runs before either player may claim it
func (s *Service) Timeout() time.Duration { return s.cfg.Timeout }

// CreateParams describes a new game
type CreateParams struct {
	Creator     string
	Stake       int64
	TimeControl string
	Title       string
}

// Create debits the creator's stake and opens a waiting game.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Game, error) {
	if p.Creator == "" {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "creator is required")
	}
	if p.Stake <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "stake must be a positive integer, got %d", p.Stake)
	}
	if p.Stake < s.cfg.MinStake {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "stake must be at least %d", s.cfg.MinStake)
	}
	if p.TimeControl == "" {
		p.TimeControl = DefaultTimeControl
	}

	id := uuid.NewString()
	if p.Title == "" {
		p.Title = fmt.Sprintf("%d GAME wager", p.Stake)
	}

	if _, err := s.ledger.Debit(ctx, p.Creator, models.TokenGame, p.Stake, stakeKey(id, p.Creator)); err != nil {
		return nil, err
	}

	g := &models.Game{
		ID:          id,
		Creator:     p.Creator,
		Stake:       p.Stake,
		Status:      models.StatusWaiting,
		TimeControl: p.TimeControl,
		Title:       p.Title,
		CreatedAt:   s.now(),
	}

	ok, err := store.Insert(ctx, s.store, store.Games, id, g)
	if err == nil && !ok {
		err = ledgererr.New(ledgererr.Contention, "game id %s already taken", id)
	}
	if err != nil {
		log.Printf("[ESCROW] Game insert failed for %s, refunding creator %s: %v", id, p.Creator, err)
		if _, _, rerr := s.ledger.Credit(ctx, p.Creator, models.TokenGame, p.Stake, id+":create-refund"); rerr != nil {
			log.Printf("[ESCROW] CRITICAL: refund of %d to %s for failed game %s did not apply: %v", p.Stake, p.Creator, id, rerr)
		}
		return nil, err
	}

	log.Printf("[ESCROW] Game created: id=%s creator=%s stake=%d", id, p.Creator, p.Stake)
	s.publish(ctx, g)
	return g, nil
}

// Join debits the opponent's stake and activates the game.
func (s *Service) Join(ctx context.Context, gameID, opponent string) (*models.Game, error) {
	if opponent == "" {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "opponent is required")
	}

	g, err := s.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := checkJoinable(g, opponent); err != nil {
		return nil, err
	}

	// each attempt debits under its own key so a refunded attempt never satisfies a retry
	attempt := stakeKey(gameID, opponent) + ":" + uuid.NewString()
	if _, err := s.ledger.Debit(ctx, opponent, models.TokenGame, g.Stake, attempt); err != nil {
		return nil, err
	}

	joined, err := store.Update(ctx, s.store, store.Games, gameID, s.cfg.Attempts, func(cur *models.Game) (*models.Game, error) {
		if cur == nil {
			return nil, ledgererr.New(ledgererr.NotFound, "game %s not found", gameID)
		}
		if err := checkJoinable(cur, opponent); err != nil {
			return nil, err
		}
		if err := checkTransition(cur.Status, models.StatusActive); err != nil {
			return nil, err
		}

		next := *cur
		now := s.now()
		next.Opponent = opponent
		next.JoinKey = attempt
		next.Pot = 2 * cur.Stake
		next.Status = models.StatusActive
		next.StartedAt = &now
		return &next, nil
	})
	if err != nil {
		s.refundFailedJoin(ctx, gameID, opponent, g.Stake, attempt, err)
		return nil, err
	}

	log.Printf("[ESCROW] Game joined: id=%s opponent=%s pot=%d", gameID, opponent, joined.Pot)
	s.publish(ctx, joined)
	return joined, nil
}

// refundFailedJoin returns the opponent's stake when the game write did not take effect.
// If the game cannot be re-read, the stake stays debited and the failure is logged.
func (s *Service) refundFailedJoin(ctx context.Context, gameID, opponent string, stake int64, attempt string, cause error) {
	cur, err := s.Get(ctx, gameID)
	if err != nil && !ledgererr.Is(err, ledgererr.NotFound) {
		log.Printf("[ESCROW] CRITICAL: cannot verify join of %s by %s after %v; stake %d left in escrow: %v", gameID, opponent, cause, stake, err)
		return
	}
	if cur != nil && cur.JoinKey == attempt {
		return
	}
	if _, _, err := s.ledger.Credit(ctx, opponent, models.TokenGame, stake, attempt+":refund"); err != nil {
		log.Printf("[ESCROW] CRITICAL: join refund of %d to %s for game %s did not apply: %v", stake, opponent, gameID, err)
		return
	}
	log.Printf("[ESCROW] Join of %s by %s rejected (%v); stake refunded", gameID, opponent, cause)
}

// Resolve settles an active game as a win or a draw.
func (s *Service) Resolve(ctx context.Context, gameID string, outcome fees.Outcome) (*models.Game, error) {
	return s.settle(ctx, gameID, func(g *models.Game, now time.Time) (*models.Game, error) {
		if g.Status != models.StatusActive {
			return nil, ledgererr.New(ledgererr.GameNotActive, "game %s is %s", gameID, g.Status)
		}

		status := models.StatusCompleted
		o := outcome
		if o.Draw {
			status = models.StatusDraw
			o = fees.Draw(g.Creator, g.Opponent)
		} else if !g.HasPlayer(o.Winner) {
			return nil, ledgererr.New(ledgererr.InvalidWinner, "%q is not a player of game %s", o.Winner, gameID)
		}
		return s.terminal(g, status, o, now)
	})
}

// Cancel refunds the creator of a game nobody joined.
func (s *Service) Cancel(ctx context.Context, gameID, requester string) (*models.Game, error) {
	return s.settle(ctx, gameID, func(g *models.Game, now time.Time) (*models.Game, error) {
		if g.Status != models.StatusWaiting {
			return nil, ledgererr.New(ledgererr.GameNotCancellable, "game %s is %s", gameID, g.Status)
		}
		if requester != g.Creator {
			return nil, ledgererr.New(ledgererr.NotCreator, "only the creator can cancel game %s", gameID)
		}
		if err := checkTransition(g.Status, models.StatusCancelled); err != nil {
			return nil, err
		}

		next := *g
		next.Status = models.StatusCancelled
		next.Fee = 0
		next.Payouts = []models.Payout{{Account: g.Creator, Amount: g.Stake}}
		next.EndedAt = &now
		next.Settled = false
		return &next, nil
	})
}

// ClaimTimeout awards the pot to claimant once the game has run past the timeout.
func (s *Service) ClaimTimeout(ctx context.Context, gameID, claimant string) (*models.Game, error) {
	return s.settle(ctx, gameID, func(g *models.Game, now time.Time) (*models.Game, error) {
		if g.Status != models.StatusActive {
			return nil, ledgererr.New(ledgererr.GameNotActive, "game %s is %s", gameID, g.Status)
		}
		if !g.HasPlayer(claimant) {
			return nil, ledgererr.New(ledgererr.NotAPlayer, "%q is not a player of game %s", claimant, gameID)
		}
		if g.StartedAt == nil {
			return nil, ledgererr.New(ledgererr.InvalidTransition, "game %s is active without a start time", gameID)
		}

		if elapsed := now.Sub(*g.StartedAt); elapsed < s.cfg.Timeout {
			remaining := s.cfg.Timeout - elapsed
			mins := int64((remaining + time.Minute - 1) / time.Minute)
			return nil, &ledgererr.Error{
				Kind:      ledgererr.TimeoutNotReached,
				Message:   fmt.Sprintf("timeout not reached, %d minutes remaining", mins),
				Remaining: remaining,
			}
		}
		return s.terminal(g, models.StatusTimeout, fees.Win(claimant), now)
	})
}

// terminal computes the settlement and returns the game in its final status
func (s *Service) terminal(g *models.Game, status models.GameStatus, o fees.Outcome, now time.Time) (*models.Game, error) {
	if err := checkTransition(g.Status, status); err != nil {
		return nil, err
	}
	st, err := s.calc.Settle(g.Pot, o)
	if err != nil {
		return nil, err
	}

	next := *g
	next.Status = status
	if !o.Draw {
		next.Winner = o.Winner
	}
	next.Fee = st.Fee
	next.Payouts = st.Payouts
	next.Forfeited = st.Forfeited
	next.EndedAt = &now
	next.Settled = false
	return &next, nil
}

type transitionFunc func(g *models.Game, now time.Time) (*models.Game, error)

// settle commits the terminal transition first, then credits the payouts, then marks the
// game settled. A failure after the commit leaves Settled=false for Reconcile to finish.
func (s *Service) settle(ctx context.Context, gameID string, fn transitionFunc) (*models.Game, error) {
	g, err := store.Update(ctx, s.store, store.Games, gameID, s.cfg.Attempts, func(cur *models.Game) (*models.Game, error) {
		if cur == nil {
			return nil, ledgererr.New(ledgererr.NotFound, "game %s not found", gameID)
		}
		return fn(cur, s.now())
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[ESCROW] Game %s -> %s (pot=%d fee=%d forfeited=%d)", g.ID, g.Status, g.Pot, g.Fee, g.Forfeited)

	if settled, err := s.completeSettlement(ctx, g); err != nil {
		log.Printf("[ESCROW] Payouts for %s pending reconciliation: %v", g.ID, err)
	} else {
		g = settled
	}

	s.publish(ctx, g)
	return g, nil
}

// completeSettlement credits every unpaid payout, marking each one paid on the game as it
// lands, then flags the game settled. The per-balance key covers a crash between a credit
// and its mark.
func (s *Service) completeSettlement(ctx context.Context, g *models.Game) (*models.Game, error) {
	key := g.SettlementKey()
	for i, p := range g.Payouts {
		if p.Paid || p.Amount <= 0 {
			continue
		}
		if _, _, err := s.ledger.Credit(ctx, p.Account, models.TokenGame, p.Amount, key); err != nil {
			return nil, err
		}
		marked, err := s.markPaid(ctx, g.ID, i)
		if err != nil {
			return nil, err
		}
		g = marked
	}

	return store.Update(ctx, s.store, store.Games, g.ID, s.cfg.Attempts, func(cur *models.Game) (*models.Game, error) {
		if cur == nil {
			return nil, ledgererr.New(ledgererr.NotFound, "game %s not found", g.ID)
		}
		if cur.Settled {
			return nil, nil
		}
		next := *cur
		next.Settled = true
		return &next, nil
	})
}

func (s *Service) markPaid(ctx context.Context, gameID string, i int) (*models.Game, error) {
	return store.Update(ctx, s.store, store.Games, gameID, s.cfg.Attempts, func(cur *models.Game) (*models.Game, error) {
		if cur == nil {
			return nil, ledgererr.New(ledgererr.NotFound, "game %s not found", gameID)
		}
		if i >= len(cur.Payouts) || cur.Payouts[i].Paid {
			return nil, nil
		}
		next := *cur
		next.Payouts = append([]models.Payout(nil), cur.Payouts...)
		next.Payouts[i].Paid = true
		return &next, nil
	})
}

// Get returns a game by id
func (s *Service) Get(ctx context.Context, gameID string) (*models.Game, error) {
	if gameID == "" {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "game id is required")
	}
	g, _, err := store.Load[models.Game](ctx, s.store, store.Games, gameID)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status  models.GameStatus
	Account string
	Limit   int
}

// List returns games matching f, newest first
func (s *Service) List(ctx context.Context, f ListFilter) ([]*models.Game, error) {
	all, err := store.LoadAll[models.Game](ctx, s.store, store.Games)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Game, 0, len(all))
	for _, g := range all {
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		if f.Account != "" && !g.HasPlayer(f.Account) {
			continue
		}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListOpen returns the games still waiting for an opponent, newest first
func (s *Service) ListOpen(ctx context.Context) ([]*models.Game, error) {
	return s.List(ctx, ListFilter{Status: models.StatusWaiting})
}

func (s *Service) publish(ctx context.Context, g *models.Game) {
	if err := s.events.Publish(ctx, events.ForGame(g, s.now())); err != nil {
		log.Printf("[ESCROW] Failed to publish event for %s: %v", g.ID, err)
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func checkJoinable(g *models.Game, opponent string) error {
	if g.Status != models.StatusWaiting {
		return ledgererr.New(ledgererr.GameNotJoinable, "game %s is %s", g.ID, g.Status)
	}
	if g.Creator == opponent {
		return ledgererr.New(ledgererr.SelfJoin, "cannot join your own game")
	}
	return nil
}

func stakeKey(gameID, account string) string {
	return gameID + ":stake:" + account
}
