package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/chessdao/backend/internal/ledgererr"
)

// Namespace groups records of one kind
type Namespace string

const (
	Games     Namespace = "games"
	Balances  Namespace = "balances"
	Exchanges Namespace = "exchanges"
)

// Valid reports whether ns is one of the known namespaces
func (ns Namespace) Valid() bool {
	return ns == Games || ns == Balances || ns == Exchanges
}

// Record is a stored value with its version. Version 0 means the key does not exist.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// Store is the ledger storage contract: versioned reads and compare-and-set writes.
// Implementations never perform blind writes and report connectivity failures as
// ledgererr.Unavailable.
type Store interface {
	// Get returns the record for key, or ledgererr.NotFound.
	Get(ctx context.Context, ns Namespace, key string) (Record, error)
	// CompareAndSet writes value only if the stored version equals expected.
	// expected == 0 creates the key and fails if it already exists.
	CompareAndSet(ctx context.Context, ns Namespace, key string, expected int64, value []byte) (bool, error)
	// List returns every record in the namespace.
	List(ctx context.Context, ns Namespace) ([]Record, error)
	Close() error
}

// DefaultAttempts bounds optimistic retries when no explicit limit is configured
const DefaultAttempts = 5

// MutateFunc receives the current value (nil when absent) and returns the value to write.
// Returning a nil value and nil error leaves the record untouched.
type MutateFunc[T any] func(cur *T) (*T, error)

// Update runs a read-validate-write cycle on a single record, retrying on version
// conflicts up to attempts times before failing with ledgererr.Contention.
// Errors returned by fn abort the update immediately and are never retried.
func Update[T any](ctx context.Context, s Store, ns Namespace, key string, attempts int, fn MutateFunc[T]) (*T, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "update %s/%s interrupted", ns, key)
			}
		}

		var cur *T
		var version int64
		rec, err := s.Get(ctx, ns, key)
		switch {
		case err == nil:
			cur = new(T)
			if err := json.Unmarshal(rec.Value, cur); err != nil {
				return nil, fmt.Errorf("failed to decode %s/%s: %w", ns, key, err)
			}
			version = rec.Version
		case ledgererr.Is(err, ledgererr.NotFound):
		default:
			return nil, err
		}

		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s/%s: %w", ns, key, err)
		}

		ok, err := s.CompareAndSet(ctx, ns, key, version, data)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
		log.Printf("[STORE] Version conflict on %s/%s (attempt %d/%d)", ns, key, attempt+1, attempts)
	}

	return nil, ledgererr.New(ledgererr.Contention, "%s/%s changed concurrently %d times", ns, key, attempts)
}

// Load reads and decodes a single record.
func Load[T any](ctx context.Context, s Store, ns Namespace, key string) (*T, int64, error) {
	rec, err := s.Get(ctx, ns, key)
	if err != nil {
		return nil, 0, err
	}
	v := new(T)
	if err := json.Unmarshal(rec.Value, v); err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s/%s: %w", ns, key, err)
	}
	return v, rec.Version, nil
}

// Insert creates a record that must not already exist. It reports false if the key is taken.
func Insert[T any](ctx context.Context, s Store, ns Namespace, key string, v *T) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s/%s: %w", ns, key, err)
	}
	return s.CompareAndSet(ctx, ns, key, 0, data)
}

// LoadAll decodes every record of a namespace, skipping undecodable ones.
func LoadAll[T any](ctx context.Context, s Store, ns Namespace) ([]*T, error) {
	recs, err := s.List(ctx, ns)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := json.Unmarshal(rec.Value, v); err != nil {
			log.Printf("[STORE] Skipping undecodable record %s/%s: %v", ns, rec.Key, err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(5*attempt)*time.Millisecond + time.Duration(rand.Intn(5))*time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func checkNamespace(ns Namespace) error {
	if !ns.Valid() {
		return errors.New("unknown namespace " + string(ns))
	}
	return nil
}
