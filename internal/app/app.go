package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chessdao/backend/internal/accounts"
	"github.com/chessdao/backend/internal/admin"
	"github.com/chessdao/backend/internal/api"
	"github.com/chessdao/backend/internal/config"
	"github.com/chessdao/backend/internal/database"
	"github.com/chessdao/backend/internal/dispatch"
	"github.com/chessdao/backend/internal/escrow"
	"github.com/chessdao/backend/internal/events"
	"github.com/chessdao/backend/internal/exchange"
	"github.com/chessdao/backend/internal/fees"
	"github.com/chessdao/backend/internal/minting"
	"github.com/chessdao/backend/internal/redis"
	"github.com/chessdao/backend/internal/scheduler"
	"github.com/chessdao/backend/internal/store"
	"github.com/chessdao/backend/internal/ws"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// Ledger backends selectable with LEDGER_BACKEND
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// App holds every wired service of one process
type App struct {
	Config     *config.Config
	DB         *sqlx.DB
	Redis      *goredis.Client
	Store      store.Store
	Ledger     *accounts.Ledger
	Escrow     *escrow.Service
	Exchange   *exchange.Service
	Dispatcher *dispatch.Dispatcher
	Hub        *ws.Hub
	Minter     *minting.Client
}

// New connects the configured backends and wires the services
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Hub: ws.NewHub()}

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = db
	}
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
	}

	st, err := a.openStore(cfg.LedgerBackend)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st

	var pub events.Publisher = a.Hub
	if a.Redis != nil {
		pub = events.NewRedisPublisher(a.Redis)
	}

	clock := clockwork.NewRealClock()
	calc := fees.NewCalculator(int64(cfg.GameFeeBps), int64(cfg.SwapFeePercent))
	a.Ledger = accounts.NewLedger(st, cfg.CASMaxAttempts, clock)
	a.Escrow = escrow.NewService(st, a.Ledger, calc, clock, pub, escrow.Config{
		Timeout:  time.Duration(cfg.GameTimeoutMinutes) * time.Minute,
		MinStake: int64(cfg.MinStakeAmount),
		Attempts: cfg.CASMaxAttempts,
	})
	a.Exchange = exchange.NewService(st, a.Ledger, calc, clock, pub, exchange.Config{
		MinGame:       int64(cfg.SwapMinGame),
		MinChessMicro: int64(cfg.SwapMinChessMicro),
		DailyLimit:    int64(cfg.SwapDailyLimit),
		Attempts:      cfg.CASMaxAttempts,
		MintEnabled:   cfg.MintEnabled(),
	})
	a.Dispatcher = dispatch.New(a.Escrow, a.Exchange)
	a.Minter = minting.NewClient(cfg, a.Redis)

	log.Printf("[APP] Ledger backend=%s fee=%dbps swap_fee=%d%% timeout=%v mint=%v",
		cfg.LedgerBackend, calc.GameFeeBps, calc.SwapFeePercent, a.Escrow.Timeout(), a.Minter != nil)
	return a, nil
}

func (a *App) openStore(backend string) (store.Store, error) {
	switch backend {
	case "", BackendMemory:
		log.Printf("[APP] Using in-memory ledger store; balances are lost on restart")
		return store.NewMemoryStore(), nil
	case BackendPostgres:
		if a.DB == nil {
			return nil, fmt.Errorf("ledger backend %q requires DATABASE_URL", backend)
		}
		return store.NewPostgresStore(a.DB), nil
	case BackendRedis:
		if a.Redis == nil {
			return nil, fmt.Errorf("ledger backend %q requires REDIS_URL", backend)
		}
		return store.NewRedisStore(a.Redis), nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", backend)
}

// RouteDeps returns the HTTP layer's dependencies
func (a *App) RouteDeps() api.Deps {
	d := api.Deps{
		Config:     a.Config,
		Escrow:     a.Escrow,
		Exchange:   a.Exchange,
		Ledger:     a.Ledger,
		Dispatcher: a.Dispatcher,
		Hub:        a.Hub,
	}
	if a.DB != nil {
		d.Admin = admin.NewDirectory(a.DB)
	}
	return d
}

// StartStreaming runs the websocket hub and, with Redis, the cross-instance event fan-in
func (a *App) StartStreaming(ctx context.Context) {
	go a.Hub.Run(ctx)
	if a.Redis != nil {
		ws.StartEventSubscriber(ctx, a.Redis, a.Hub)
	}
}

// Jobs returns the background reconciliation and delivery jobs
func (a *App) Jobs() []scheduler.Job {
	every := time.Duration(a.Config.ReconcileIntervalSecs) * time.Second
	jobs := []scheduler.Job{
		{Name: "reconcile-games", Every: every, Run: func(ctx context.Context) error {
			_, err := a.Escrow.Reconcile(ctx)
			return err
		}},
		{Name: "reconcile-exchanges", Every: every, Run: func(ctx context.Context) error {
			_, err := a.Exchange.ReconcilePending(ctx)
			return err
		}},
	}

	if a.Minter != nil {
		w := minting.NewWorker(a.Minter, a.Exchange, 50, a.Config.MintMaxAttempts)
		jobs = append(jobs, scheduler.Job{
			Name:  "mint-delivery",
			Every: time.Duration(a.Config.MintPollSeconds) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := w.RunOnce(ctx)
				return err
			},
		})
	}
	return jobs
}

// Close releases backend connections. The Postgres and Redis stores share them.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
