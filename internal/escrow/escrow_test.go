package escrow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chessdao/backend/internal/accounts"
	"github.com/chessdao/backend/internal/events"
	"github.com/chessdao/backend/internal/fees"
	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
	"github.com/chessdao/backend/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails balance writes while failBalances is set and the next failGames
// game writes
type flakyStore struct {
	*store.MemoryStore
	failBalances atomic.Bool
	failGames    atomic.Int32
}

func (f *flakyStore) CompareAndSet(ctx context.Context, ns store.Namespace, key string, expected int64, value []byte) (bool, error) {
	if ns == store.Balances && f.failBalances.Load() {
		return false, ledgererr.New(ledgererr.Unavailable, "balances offline")
	}
	if ns == store.Games && f.failGames.Add(-1) >= 0 {
		return false, ledgererr.New(ledgererr.Unavailable, "games offline")
	}
	return f.MemoryStore.CompareAndSet(ctx, ns, key, expected, value)
}

type fixture struct {
	svc    *Service
	ledger *accounts.Ledger
	clock  *clockwork.FakeClock
	store  *flakyStore
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := accounts.NewLedger(st, 50, clock)
	rec := &events.Recorder{}
	svc := NewService(st, ledger, fees.NewCalculator(250, 1), clock, rec, Config{Attempts: 50})
	return &fixture{svc: svc, ledger: ledger, clock: clock, store: st, events: rec}
}

func (f *fixture) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	_, _, err := f.ledger.Deposit(context.Background(), account, models.TokenGame, amount, "seed-"+account)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := f.ledger.Get(context.Background(), account)
	require.NoError(t, err)
	return b.Game
}

func (f *fixture) activeGame(t *testing.T, stake int64) *models.Game {
	t.Helper()
	ctx := context.Background()
	f.fund(t, "alice", stake)
	f.fund(t, "bob", stake)
	g, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: stake})
	require.NoError(t, err)
	g, err = f.svc.Join(ctx, g.ID, "bob")
	require.NoError(t, err)
	return g
}

func TestCreateThenCancelRestoresBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice", 10_000)

	for _, stake := range []int64{1, 7, 500, 9999, 10_000} {
		before := f.balance(t, "alice")
		g, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: stake})
		require.NoError(t, err)
		assert.Equal(t, before-stake, f.balance(t, "alice"))

		g, err = f.svc.Cancel(ctx, g.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, g.Status)
		assert.True(t, g.Settled)
		assert.Equal(t, before, f.balance(t, "alice"), "stake %d", stake)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice", 100)

	_, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: 0})
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidRequest))

	_, err = f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: -5})
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidRequest))

	_, err = f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: 101})
	assert.True(t, ledgererr.Is(err, ledgererr.InsufficientFunds))
	assert.Equal(t, int64(100), f.balance(t, "alice"))

	g, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: 100})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeControl, g.TimeControl)
	assert.Equal(t, int64(0), g.Pot)
	assert.Equal(t, models.StatusWaiting, g.Status)
}

func TestJoinActivatesGame(t *testing.T) {
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	assert.Equal(t, models.StatusActive, g.Status)
	assert.Equal(t, "bob", g.Opponent)
	assert.Equal(t, int64(2000), g.Pot)
	require.NotNil(t, g.StartedAt)
	assert.Equal(t, f.clock.Now().UTC(), *g.StartedAt)
	assert.Equal(t, int64(0), f.balance(t, "alice"))
	assert.Equal(t, int64(0), f.balance(t, "bob"))
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	f.fund(t, "carol", 1000)
	_, err := f.svc.Join(ctx, g.ID, "carol")
	assert.True(t, ledgererr.Is(err, ledgererr.GameNotJoinable))
	assert.Equal(t, int64(1000), f.balance(t, "carol"))

	f.fund(t, "dave", 50)
	open, err := f.svc.Create(ctx, CreateParams{Creator: "carol", Stake: 100})
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, open.ID, "carol")
	assert.True(t, ledgererr.Is(err, ledgererr.SelfJoin))

	_, err = f.svc.Join(ctx, open.ID, "dave")
	assert.True(t, ledgererr.Is(err, ledgererr.InsufficientFunds))
	assert.Equal(t, int64(50), f.balance(t, "dave"))

	still, err := f.svc.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, still.Status)

	_, err = f.svc.Join(ctx, "missing", "dave")
	assert.True(t, ledgererr.Is(err, ledgererr.NotFound))
}

func TestRetriedJoinDebitsStakeAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice", 1000)
	f.fund(t, "bob", 1000)
	g, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: 1000})
	require.NoError(t, err)

	f.store.failGames.Store(1)
	_, err = f.svc.Join(ctx, g.ID, "bob")
	require.True(t, ledgererr.Is(err, ledgererr.Unavailable), "got %v", err)
	assert.Equal(t, int64(1000), f.balance(t, "bob"))

	g, err = f.svc.Join(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, g.Status)
	assert.Equal(t, int64(2000), g.Pot)
	assert.Equal(t, int64(0), f.balance(t, "bob"))

	_, err = f.svc.Resolve(ctx, g.ID, fees.Win("bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(1950), f.balance(t, "bob"))
	assert.Equal(t, int64(0), f.balance(t, "alice"))
}

func TestResolveWinPaysPotMinusFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	g, err := f.svc.Resolve(ctx, g.ID, fees.Win("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, g.Status)
	assert.Equal(t, "alice", g.Winner)
	assert.Equal(t, int64(50), g.Fee)
	assert.Equal(t, int64(1950), g.PayoutTo("alice"))
	assert.True(t, g.Settled)
	require.NotNil(t, g.EndedAt)

	assert.Equal(t, int64(1950), f.balance(t, "alice"))
	assert.Equal(t, int64(0), f.balance(t, "bob"))
}

func TestResolveDrawSplitsPrizePool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	g, err := f.svc.Resolve(ctx, g.ID, fees.Outcome{Draw: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraw, g.Status)
	assert.Empty(t, g.Winner)
	assert.Equal(t, int64(975), f.balance(t, "alice"))
	assert.Equal(t, int64(975), f.balance(t, "bob"))
	assert.Equal(t, g.Pot, g.Fee+g.Forfeited+975*2)
}

func TestResolveRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	_, err := f.svc.Resolve(ctx, g.ID, fees.Win("mallory"))
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidWinner))

	f.fund(t, "carol", 10)
	waiting, err := f.svc.Create(ctx, CreateParams{Creator: "carol", Stake: 10})
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, waiting.ID, fees.Win("carol"))
	assert.True(t, ledgererr.Is(err, ledgererr.GameNotActive))
}

func TestResolveTwiceCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	_, err := f.svc.Resolve(ctx, g.ID, fees.Win("bob"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, g.ID, fees.Win("bob"))
	assert.True(t, ledgererr.Is(err, ledgererr.GameNotActive))

	_, err = f.svc.ClaimTimeout(ctx, g.ID, "bob")
	assert.True(t, ledgererr.Is(err, ledgererr.GameNotActive))

	assert.Equal(t, int64(1950), f.balance(t, "bob"))
}

func TestConcurrentResolveRaceSettlesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)
	f.clock.Advance(DefaultTimeout)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				_, err = f.svc.Resolve(ctx, g.ID, fees.Win("alice"))
			case 1:
				_, err = f.svc.Resolve(ctx, g.ID, fees.Win("bob"))
			default:
				_, err = f.svc.ClaimTimeout(ctx, g.ID, "bob")
			}
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(1950), f.balance(t, "alice")+f.balance(t, "bob"))
}

func TestClaimTimeoutBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	f.clock.Advance(DefaultTimeout - time.Second)
	_, err := f.svc.ClaimTimeout(ctx, g.ID, "bob")
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.TimeoutNotReached))

	var le *ledgererr.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, int64(1), le.RemainingSeconds())
	assert.Contains(t, le.Message, "1 minutes remaining")

	f.clock.Advance(time.Second)
	g, err = f.svc.ClaimTimeout(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTimeout, g.Status)
	assert.Equal(t, "bob", g.Winner)
	assert.Equal(t, int64(1950), f.balance(t, "bob"))
}

func TestClaimTimeoutEarlyReportsRemaining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 10)

	f.clock.Advance(10 * time.Minute)
	_, err := f.svc.ClaimTimeout(ctx, g.ID, "alice")

	var le *ledgererr.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ledgererr.TimeoutNotReached, le.Kind)
	assert.Equal(t, 20*time.Minute, le.Remaining)
	assert.Equal(t, int64(1200), le.RemainingSeconds())
}

func TestClaimTimeoutByStranger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 10)
	f.clock.Advance(time.Hour)

	_, err := f.svc.ClaimTimeout(ctx, g.ID, "mallory")
	assert.True(t, ledgererr.Is(err, ledgererr.NotAPlayer))
}

func TestCancelRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "carol", 10)
	waiting, err := f.svc.Create(ctx, CreateParams{Creator: "carol", Stake: 10})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, waiting.ID, "mallory")
	assert.True(t, ledgererr.Is(err, ledgererr.NotCreator))

	active := f.activeGame(t, 10)
	_, err = f.svc.Cancel(ctx, active.ID, "alice")
	assert.True(t, ledgererr.Is(err, ledgererr.GameNotCancellable))
}

func TestJoinCancelRaceConservesFunds(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		f.fund(t, "alice", 100)
		f.fund(t, "bob", 100)
		g, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: 100})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var joinErr, cancelErr error
		wg.Add(2)
		go func() { defer wg.Done(); _, joinErr = f.svc.Join(ctx, g.ID, "bob") }()
		go func() { defer wg.Done(); _, cancelErr = f.svc.Cancel(ctx, g.ID, "alice") }()
		wg.Wait()

		final, err := f.svc.Get(ctx, g.ID)
		require.NoError(t, err)

		switch final.Status {
		case models.StatusActive:
			require.NoError(t, joinErr)
			assert.True(t, ledgererr.Is(cancelErr, ledgererr.GameNotCancellable))
			assert.Equal(t, int64(0), f.balance(t, "alice"))
			assert.Equal(t, int64(0), f.balance(t, "bob"))
		case models.StatusCancelled:
			require.NoError(t, cancelErr)
			assert.True(t, ledgererr.Is(joinErr, ledgererr.GameNotJoinable))
			assert.Equal(t, int64(100), f.balance(t, "alice"))
			assert.Equal(t, int64(100), f.balance(t, "bob"))
		default:
			t.Fatalf("unexpected status %s", final.Status)
		}
	}
}

func TestReconcileCompletesInterruptedSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	f.store.failBalances.Store(true)
	g, err := f.svc.Resolve(ctx, g.ID, fees.Win("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, g.Status)
	assert.False(t, g.Settled)

	f.store.failBalances.Store(false)
	assert.Equal(t, int64(0), f.balance(t, "alice"))

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, int64(1950), f.balance(t, "alice"))

	report, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, int64(1950), f.balance(t, "alice"))

	stored, err := f.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, stored.Settled)
}

func TestReconcileAfterPartialCreditDoesNotDoublePay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	g, err := f.svc.Resolve(ctx, g.ID, fees.Outcome{Draw: true})
	require.NoError(t, err)

	// simulate a crash after the credits but before the settled flag was written
	_, err = store.Update(ctx, f.store, store.Games, g.ID, 5, func(cur *models.Game) (*models.Game, error) {
		next := *cur
		next.Settled = false
		return &next, nil
	})
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, int64(975), f.balance(t, "alice"))
	assert.Equal(t, int64(975), f.balance(t, "bob"))
}

func TestReconcileReliesOnBalanceKeyWhenMarkIsMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	g, err := f.svc.Resolve(ctx, g.ID, fees.Win("alice"))
	require.NoError(t, err)

	// credit landed but neither the paid mark nor the settled flag did
	_, err = store.Update(ctx, f.store, store.Games, g.ID, 5, func(cur *models.Game) (*models.Game, error) {
		next := *cur
		next.Settled = false
		next.Payouts = []models.Payout{{Account: "alice", Amount: 1950}}
		return &next, nil
	})
	require.NoError(t, err)

	_, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1950), f.balance(t, "alice"))
}

func TestPaidPayoutSurvivesEvictedBalanceKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 1000)

	g, err := f.svc.Resolve(ctx, g.ID, fees.Win("alice"))
	require.NoError(t, err)
	require.True(t, g.Settled)
	require.True(t, g.Payouts[0].Paid)

	// push the settlement key out of alice's dedupe window
	for i := 0; i < accounts.MaxAppliedKeys; i++ {
		_, _, err := f.ledger.Deposit(ctx, "alice", models.TokenGame, 1, fmt.Sprintf("drip-%d", i))
		require.NoError(t, err)
	}
	b, err := f.ledger.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, b.HasApplied(g.SettlementKey()))

	_, err = store.Update(ctx, f.store, store.Games, g.ID, 5, func(cur *models.Game) (*models.Game, error) {
		next := *cur
		next.Settled = false
		return &next, nil
	})
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, int64(1950+accounts.MaxAppliedKeys), f.balance(t, "alice"))
}

func TestListNewestFirstWithFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice", 100)
	f.fund(t, "bob", 100)

	var ids []string
	for i := 0; i < 3; i++ {
		g, err := f.svc.Create(ctx, CreateParams{Creator: "alice", Stake: 10, Title: fmt.Sprintf("g%d", i)})
		require.NoError(t, err)
		ids = append(ids, g.ID)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.Join(ctx, ids[0], "bob")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	open, err := f.svc.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	bobs, err := f.svc.List(ctx, ListFilter{Account: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, ids[0], bobs[0].ID)

	limited, err := f.svc.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEventsPublishedPerTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.activeGame(t, 10)

	_, err := f.svc.Resolve(ctx, g.ID, fees.Win("alice"))
	require.NoError(t, err)

	assert.Equal(t, []string{events.GameCreated, events.GameJoined, events.GameCompleted}, f.events.Types())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StatusWaiting, models.StatusActive))
	assert.True(t, CanTransition(models.StatusActive, models.StatusTimeout))
	assert.False(t, CanTransition(models.StatusActive, models.StatusCancelled))
	assert.False(t, CanTransition(models.StatusCompleted, models.StatusActive))
	assert.False(t, CanTransition(models.StatusWaiting, models.StatusCompleted))
}
