package accounts

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
	"github.com/chessdao/backend/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger() *Ledger {
	return NewLedger(store.NewMemoryStore(), 50, clockwork.NewFakeClock())
}

func TestGetUnknownAccountIsZero(t *testing.T) {
	l := newLedger()
	b, err := l.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Game)
	assert.Equal(t, int64(0), b.Chess)
}

func TestCreditIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	_, applied, err := l.Credit(ctx, "alice", models.TokenGame, 100, "g1:completed")
	require.NoError(t, err)
	assert.True(t, applied)

	b, applied, err := l.Credit(ctx, "alice", models.TokenGame, 100, "g1:completed")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(100), b.Game)
}

func TestDebitIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	_, _, err := l.Deposit(ctx, "alice", models.TokenGame, 100, "d1")
	require.NoError(t, err)

	_, err = l.Debit(ctx, "alice", models.TokenGame, 40, "g1:stake:alice")
	require.NoError(t, err)
	b, err := l.Debit(ctx, "alice", models.TokenGame, 40, "g1:stake:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), b.Game)

	b, err = l.Debit(ctx, "alice", models.TokenGame, 40, "g1:stake:alice:retry")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.Game)
}

func TestDebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	_, _, err := l.Deposit(ctx, "alice", models.TokenGame, 50, "d1")
	require.NoError(t, err)

	_, err = l.Debit(ctx, "alice", models.TokenGame, 51, "stake")
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.InsufficientFunds))

	b, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.Game)
}

func TestDepositValidation(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	_, _, err := l.Deposit(ctx, "alice", models.TokenGame, 0, "d")
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidRequest))
	_, _, err = l.Deposit(ctx, "alice", "DOGE", 10, "d")
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidRequest))
	_, _, err = l.Deposit(ctx, "alice", models.TokenGame, 10, "")
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidRequest))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	_, _, err := l.Deposit(ctx, "alice", models.TokenGame, 100, "seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Debit(ctx, "alice", models.TokenGame, 10, fmt.Sprintf("k%d", i)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	b, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Game, int64(0))
	assert.Equal(t, int64(100-10*succeeded), b.Game)
}

func TestMarkAppliedIsBounded(t *testing.T) {
	b := &models.UserBalance{}
	for i := 0; i < MaxAppliedKeys+10; i++ {
		MarkApplied(b, fmt.Sprintf("k%d", i))
	}
	assert.Len(t, b.Applied, MaxAppliedKeys)
	assert.False(t, b.HasApplied("k0"))
	assert.True(t, b.HasApplied(fmt.Sprintf("k%d", MaxAppliedKeys+9)))
}
