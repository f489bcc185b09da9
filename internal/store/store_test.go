package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/migrations"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int `json:"n"`
}

// testContract checks the compare-and-set rules every backend must follow
func testContract(t *testing.T, s Store) {
	ctx := context.Background()
	key := "contract-" + uuid.NewString()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, Games, key)
		assert.True(t, ledgererr.Is(err, ledgererr.NotFound), "got %v", err)
	})

	t.Run("expected zero creates once", func(t *testing.T) {
		ok, err := s.CompareAndSet(ctx, Games, key, 0, []byte(`{"n":1}`))
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err := s.Get(ctx, Games, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)
		assert.JSONEq(t, `{"n":1}`, string(rec.Value))

		ok, err = s.CompareAndSet(ctx, Games, key, 0, []byte(`{"n":9}`))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stale version is refused", func(t *testing.T) {
		ok, err := s.CompareAndSet(ctx, Games, key, 7, []byte(`{"n":9}`))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndSet(ctx, Games, key, 1, []byte(`{"n":2}`))
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err := s.Get(ctx, Games, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Version)
		assert.JSONEq(t, `{"n":2}`, string(rec.Value))
	})

	t.Run("one racing writer wins", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CompareAndSet(ctx, Games, key, 2, []byte(`{"n":3}`))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("update retries conflicts", func(t *testing.T) {
		ukey := "counter-" + uuid.NewString()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Update(ctx, s, Balances, ukey, 100, func(cur *counter) (*counter, error) {
					next := counter{}
					if cur != nil {
						next = *cur
					}
					next.N++
					return &next, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		c, _, err := Load[counter](ctx, s, Balances, ukey)
		require.NoError(t, err)
		assert.Equal(t, 8, c.N)
	})

	t.Run("list includes key", func(t *testing.T) {
		recs, err := s.List(ctx, Games)
		require.NoError(t, err)
		found := false
		for _, r := range recs {
			if r.Key == key {
				found = true
				assert.Equal(t, int64(3), r.Version)
			}
		}
		assert.True(t, found)
	})

	t.Run("unknown namespace", func(t *testing.T) {
		_, err := s.CompareAndSet(ctx, Namespace("players"), key, 0, []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	testContract(t, NewMemoryStore())
}

func TestPostgresStoreContract(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, migrations.RunMigrations(url, "../../migrations"))

	db, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)
	defer db.Close()

	testContract(t, NewPostgresStore(db))
}

func TestRedisStoreContract(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())

	s := NewRedisStore(rdb)
	s.prefix = "ledgertest-" + uuid.NewString()
	defer func() {
		keys, err := rdb.Keys(ctx, s.prefix+":*").Result()
		if err == nil && len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	}()

	testContract(t, s)
}
