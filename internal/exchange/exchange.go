package exchange

import (
	"context"
	"fmt"
	"log"
	"sort"

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
	DefaultMinGame       int64 = 10
	DefaultMinChessMicro int64 = fees.ChessMicro
	DefaultDailyLimit    int64 = 100_000
	DefaultHistoryLimit        = 10
)

// Config holds the swap limits. DailyLimit is in GAME-equivalent units.
type Config struct {
	MinGame       int64
	MinChessMicro int64
	DailyLimit    int64
	Attempts      int
	// MintEnabled marks CHESS-destination records for on-chain delivery
	MintEnabled bool
}

// Service converts between the GAME and CHESS balances of one account
type Service struct {
	store  store.Store
	ledger *accounts.Ledger
	calc   fees.Calculator
	clock  clockwork.Clock
	events events.Publisher
	cfg    Config
}

// NewService wires the exchange engine
func NewService(s store.Store, ledger *accounts.Ledger, calc fees.Calculator, clock clockwork.Clock, pub events.Publisher, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.MinGame <= 0 {
		cfg.MinGame = DefaultMinGame
	}
	if cfg.MinChessMicro <= 0 {
		cfg.MinChessMicro = DefaultMinChessMicro
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	return &Service{store: s, ledger: ledger, calc: calc, clock: clock, events: pub, cfg: cfg}
}

// Swap converts amount of from into the other token for account. The debit, the credit,
// the daily usage and the pending record are written in one balance compare-and-set;
// the record is then appended to the exchange ledger.
func (s *Service) Swap(ctx context.Context, account string, from models.Token, amount int64) (*models.ExchangeRecord, error) {
	if account == "" {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "account is required")
	}
	if !from.Valid() {
		return nil, &ledgererr.Error{Kind: ledgererr.InvalidSwap, Message: "swap rejected", Reasons: []string{"unsupported token " + string(from)}}
	}

	// a record left pending by an earlier crash must be appended before the slot is reused
	if err := s.flushPending(ctx, account); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	today := now.Format("2006-01-02")
	rec := &models.ExchangeRecord{
		ID:        uuid.NewString(),
		Account:   account,
		FromToken: from,
		ToToken:   from.Other(),
		Amount:    amount,
		Rate:      fees.RateString(from),
		Delivery:  models.DeliveryNone,
		CreatedAt: now,
	}
	if rec.ToToken == models.TokenChess && s.cfg.MintEnabled {
		rec.Delivery = models.DeliveryPending
	}

	_, err := s.ledger.Update(ctx, account, func(b *models.UserBalance) error {
		if b.PendingExchange != nil {
			return ledgererr.New(ledgererr.Contention, "another swap for %s is being recorded", account)
		}

		used := b.SwappedToday
		if b.SwapDay != today {
			used = 0
		}
		if reasons := s.validate(b, from, amount, used); len(reasons) > 0 {
			return &ledgererr.Error{Kind: ledgererr.InvalidSwap, Message: "swap rejected", Reasons: reasons}
		}

		q, err := s.calc.Swap(from, amount)
		if err != nil {
			return err
		}
		rec.GrossAmount, rec.Fee, rec.NetAmount = q.Gross, q.Fee, q.Net

		b.Add(from, -amount)
		b.Add(rec.ToToken, q.Net)
		b.SwapDay = today
		b.SwappedToday = used + fees.GameEquivalent(from, amount)
		pending := *rec
		b.PendingExchange = &pending
		accounts.MarkApplied(b, "swap:"+rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[SWAP] %s swapped %d %s -> %d %s (fee=%d id=%s)", account, amount, from, rec.NetAmount, rec.ToToken, rec.Fee, rec.ID)

	if err := s.appendRecord(ctx, account, rec); err != nil {
		log.Printf("[SWAP] Record %s left pending for reconciliation: %v", rec.ID, err)
	}

	if err := s.events.Publish(ctx, events.Event{Type: events.SwapExecuted, Account: account, Exchange: rec, At: now}); err != nil {
		log.Printf("[SWAP] Failed to publish swap event %s: %v", rec.ID, err)
	}
	return rec, nil
}

// validate collects every rule the swap breaks
func (s *Service) validate(b *models.UserBalance, from models.Token, amount, usedToday int64) []string {
	var reasons []string
	if amount <= 0 {
		reasons = append(reasons, "amount must be positive")
		return reasons
	}

	if from == models.TokenGame && amount < s.cfg.MinGame {
		reasons = append(reasons, fmt.Sprintf("minimum swap is %d GAME", s.cfg.MinGame))
	}
	if from == models.TokenChess && amount < s.cfg.MinChessMicro {
		reasons = append(reasons, fmt.Sprintf("minimum swap is %s CHESS", fees.FormatChess(s.cfg.MinChessMicro)))
	}
	if amount > b.Of(from) {
		reasons = append(reasons, fmt.Sprintf("insufficient %s balance", from))
	}
	if used := usedToday + fees.GameEquivalent(from, amount); used > s.cfg.DailyLimit {
		reasons = append(reasons, fmt.Sprintf("daily swap limit of %d GAME exceeded (%d used today)", s.cfg.DailyLimit, usedToday))
	}
	return reasons
}

// appendRecord inserts rec into the exchange ledger and clears the pending slot
func (s *Service) appendRecord(ctx context.Context, account string, rec *models.ExchangeRecord) error {
	if _, err := store.Insert(ctx, s.store, store.Exchanges, rec.ID, rec); err != nil {
		return err
	}

	_, err := s.ledger.Update(ctx, account, func(b *models.UserBalance) error {
		if b.PendingExchange == nil || b.PendingExchange.ID != rec.ID {
			return accounts.ErrNoChange
		}
		b.PendingExchange = nil
		return nil
	})
	return err
}

func (s *Service) flushPending(ctx context.Context, account string) error {
	b, err := s.ledger.Get(ctx, account)
	if err != nil {
		return err
	}
	if b.PendingExchange == nil {
		return nil
	}
	log.Printf("[SWAP] Appending pending record %s for %s", b.PendingExchange.ID, account)
	return s.appendRecord(ctx, account, b.PendingExchange)
}

// ReconcilePending appends every exchange record still parked on a balance.
// Appends are insert-if-absent by record id, so repeated passes are harmless.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	balances, err := store.LoadAll[models.UserBalance](ctx, s.store, store.Balances)
	if err != nil {
		return 0, err
	}

	appended := 0
	for _, b := range balances {
		if b.PendingExchange == nil {
			continue
		}
		if err := s.appendRecord(ctx, b.Account, b.PendingExchange); err != nil {
			log.Printf("[RECONCILE] Exchange %s for %s still pending: %v", b.PendingExchange.ID, b.Account, err)
			continue
		}
		appended++
	}
	if appended > 0 {
		log.Printf("[RECONCILE] Appended %d pending exchange records", appended)
	}
	return appended, nil
}

// UsedToday returns the GAME-equivalent amount b has swapped on the current UTC day
func (s *Service) UsedToday(b *models.UserBalance) int64 {
	if b == nil || b.SwapDay != s.clock.Now().UTC().Format("2006-01-02") {
		return 0
	}
	return b.SwappedToday
}

// Quote prices a swap without touching any balance
func (s *Service) Quote(from models.Token, amount int64) (fees.SwapQuote, error) {
	return s.calc.Swap(from, amount)
}

// Rates describes the current exchange terms
type Rates struct {
	GamePerChess  int64          `json:"game_per_chess"`
	ChessPerGame  string         `json:"chess_per_game"`
	FeePercent    int64          `json:"fee_percent"`
	MinGame       int64          `json:"min_game"`
	MinChess      string         `json:"min_chess"`
	DailyLimit    int64          `json:"daily_limit_game"`
	ChessDecimals int            `json:"chess_decimals"`
	Example       fees.SwapQuote `json:"example"`
}

// Rates returns the exchange terms with an example conversion of 100 GAME
func (s *Service) Rates() Rates {
	example, _ := s.calc.Swap(models.TokenGame, 100)
	return Rates{
		GamePerChess:  fees.GamePerChess,
		ChessPerGame:  fees.FormatChess(fees.ChessMicro / fees.GamePerChess),
		FeePercent:    s.calc.SwapFeePercent,
		MinGame:       s.cfg.MinGame,
		MinChess:      fees.FormatChess(s.cfg.MinChessMicro),
		DailyLimit:    s.cfg.DailyLimit,
		ChessDecimals: 6,
		Example:       example,
	}
}

// History returns the account's swaps, newest first. Records still pending on the balance
// are included.
func (s *Service) History(ctx context.Context, account string, limit int) ([]*models.ExchangeRecord, error) {
	if account == "" {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "account is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	all, err := store.LoadAll[models.ExchangeRecord](ctx, s.store, store.Exchanges)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]*models.ExchangeRecord, 0)
	for _, r := range all {
		if r.Account == account {
			out = append(out, r)
			seen[r.ID] = true
		}
	}

	b, err := s.ledger.Get(ctx, account)
	if err != nil {
		return nil, err
	}
	if p := b.PendingExchange; p != nil && !seen[p.ID] {
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns one exchange record
func (s *Service) Get(ctx context.Context, id string) (*models.ExchangeRecord, error) {
	r, _, err := store.Load[models.ExchangeRecord](ctx, s.store, store.Exchanges, id)
	return r, err
}
