// Command reconcile runs one settlement and exchange reconciliation pass and exits.
// A non-zero exit status means some records are still pending.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/chessdao/backend/internal/app"
	"github.com/chessdao/backend/internal/config"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := config.Load()
	if cfg.LedgerBackend == app.BackendMemory {
		log.Fatalf("Nothing to reconcile: LEDGER_BACKEND is %q", cfg.LedgerBackend)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	report, err := a.Escrow.Reconcile(ctx)
	if err != nil {
		log.Fatalf("Game reconciliation failed: %v", err)
	}
	appended, err := a.Exchange.ReconcilePending(ctx)
	if err != nil {
		log.Fatalf("Exchange reconciliation failed: %v", err)
	}

	log.Printf("Games: checked=%d settled=%d failed=%d", report.Checked, report.Settled, len(report.Failed))
	log.Printf("Exchanges: appended=%d", appended)
	for _, id := range report.Failed {
		log.Printf("  still pending: %s", id)
	}
	if len(report.Failed) > 0 {
		a.Close()
		os.Exit(1)
	}
}
