package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
	"github.com/chessdao/backend/internal/store"
	"github.com/jonboulle/clockwork"
)

// MaxAppliedKeys bounds the per-balance list of idempotency keys already applied.
// Older keys drop off first. Games also mark each payout paid, so a settlement key is
// only consulted for a credit whose mark did not land.
const MaxAppliedKeys = 512

// Ledger moves funds in and out of user balances. Every change is a single
// compare-and-set on the account's balance record.
type Ledger struct {
	store    store.Store
	attempts int
	clock    clockwork.Clock
}

// NewLedger creates a balance ledger on top of s
func NewLedger(s store.Store, attempts int, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{store: s, attempts: attempts, clock: clock}
}

// Get returns the balance of account; accounts that were never touched read as zero.
func (l *Ledger) Get(ctx context.Context, account string) (*models.UserBalance, error) {
	b, _, err := store.Load[models.UserBalance](ctx, l.store, store.Balances, account)
	if ledgererr.Is(err, ledgererr.NotFound) {
		return &models.UserBalance{Account: account}, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Update applies fn to the balance of account inside one compare-and-set. The balance is
// created lazily. fn may return ErrNoChange to leave the record untouched. Negative
// balances are rejected after fn runs.
func (l *Ledger) Update(ctx context.Context, account string, fn func(b *models.UserBalance) error) (*models.UserBalance, error) {
	if account == "" {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "account is required")
	}

	var unchanged *models.UserBalance
	out, err := store.Update(ctx, l.store, store.Balances, account, l.attempts, func(cur *models.UserBalance) (*models.UserBalance, error) {
		next := &models.UserBalance{Account: account}
		if cur != nil {
			c := *cur
			c.Applied = append([]string(nil), cur.Applied...)
			next = &c
		}
		unchanged = nil

		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				unchanged = next
				return nil, nil
			}
			return nil, err
		}
		if next.Game < 0 || next.Chess < 0 {
			return nil, ledgererr.New(ledgererr.InsufficientFunds, "balance of %s would go negative", account)
		}
		next.LastUpdated = l.clock.Now().UTC()
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return unchanged, nil
	}
	return out, nil
}

// ErrNoChange tells Update that the mutation is already applied
var ErrNoChange = errors.New("no change")

// Credit adds amount of token to account once per key. It reports whether the credit
// was applied now (false means key had already been applied).
func (l *Ledger) Credit(ctx context.Context, account string, token models.Token, amount int64, key string) (*models.UserBalance, bool, error) {
	if amount < 0 {
		return nil, false, ledgererr.New(ledgererr.InvalidRequest, "credit amount must not be negative")
	}

	applied := false
	b, err := l.Update(ctx, account, func(b *models.UserBalance) error {
		applied = false
		if key != "" && b.HasApplied(key) {
			return ErrNoChange
		}
		b.Add(token, amount)
		MarkApplied(b, key)
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to credit %s: %w", account, err)
	}

	if applied {
		log.Printf("[ACCT] Credit applied: account=%s token=%s amount=%d key=%s", account, token, amount, key)
	}
	return b, applied, nil
}

// Debit removes amount of token from account once per key, failing with
// InsufficientFunds when the balance is too low.
func (l *Ledger) Debit(ctx context.Context, account string, token models.Token, amount int64, key string) (*models.UserBalance, error) {
	if amount <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidRequest, "debit amount must be positive")
	}

	applied := false
	b, err := l.Update(ctx, account, func(b *models.UserBalance) error {
		applied = false
		if key != "" && b.HasApplied(key) {
			return ErrNoChange
		}
		if b.Of(token) < amount {
			return ledgererr.New(ledgererr.InsufficientFunds, "%s has %d %s, needs %d", account, b.Of(token), token, amount)
		}
		b.Add(token, -amount)
		MarkApplied(b, key)
		applied = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to debit %s: %w", account, err)
	}

	if !applied {
		log.Printf("[ACCT] Debit already applied: account=%s key=%s", account, key)
		return b, nil
	}
	log.Printf("[ACCT] Debit applied: account=%s token=%s amount=%d key=%s", account, token, amount, key)
	return b, nil
}

// Deposit credits externally purchased funds. ref must be unique per deposit.
func (l *Ledger) Deposit(ctx context.Context, account string, token models.Token, amount int64, ref string) (*models.UserBalance, bool, error) {
	if account == "" {
		return nil, false, ledgererr.New(ledgererr.InvalidRequest, "account is required")
	}
	if amount <= 0 {
		return nil, false, ledgererr.New(ledgererr.InvalidRequest, "deposit amount must be positive")
	}
	if !token.Valid() {
		return nil, false, ledgererr.New(ledgererr.InvalidRequest, "unknown token %q", token)
	}
	if ref == "" {
		return nil, false, ledgererr.New(ledgererr.InvalidRequest, "deposit reference is required")
	}
	return l.Credit(ctx, account, token, amount, "deposit:"+ref)
}

// MarkApplied records key on b, keeping only the newest MaxAppliedKeys entries
func MarkApplied(b *models.UserBalance, key string) {
	if key == "" {
		return
	}
	b.Applied = append(b.Applied, key)
	if n := len(b.Applied); n > MaxAppliedKeys {
		b.Applied = append([]string(nil), b.Applied[n-MaxAppliedKeys:]...)
	}
}
