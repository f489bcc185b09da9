package minting

import (
	"context"
	"log"
	"strings"

	"github.com/chessdao/backend/internal/models"
)

// Minter delivers tokens on-chain
type Minter interface {
	Mint(ctx context.Context, req MintRequest) (*MintResponse, error)
}

// DeliveryLedger is the part of the exchange engine the worker reads and updates
type DeliveryLedger interface {
	PendingDeliveries(ctx context.Context, limit int) ([]*models.ExchangeRecord, error)
	MarkDelivery(ctx context.Context, id string, status models.DeliveryStatus, ref string) (*models.ExchangeRecord, error)
}

// Worker pushes pending CHESS deliveries to the minting service. It never touches balances:
// the internal ledger is authoritative and delivery is retried independently.
type Worker struct {
	minter      Minter
	ledger      DeliveryLedger
	batch       int
	maxAttempts int
}

// NewWorker creates a delivery worker
func NewWorker(m Minter, l DeliveryLedger, batch, maxAttempts int) *Worker {
	if batch <= 0 {
		batch = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{minter: m, ledger: l, batch: batch, maxAttempts: maxAttempts}
}

// DeliveryReport summarises one pass
type DeliveryReport struct {
	Checked   int
	Delivered int
	Failed    int
}

// RunOnce attempts every pending delivery once
func (w *Worker) RunOnce(ctx context.Context) (DeliveryReport, error) {
	var report DeliveryReport

	pending, err := w.ledger.PendingDeliveries(ctx, w.batch)
	if err != nil {
		return report, err
	}
	if len(pending) == 0 {
		return report, nil
	}
	log.Printf("[MINT] Delivering %d pending exchange(s)", len(pending))

	for _, rec := range pending {
		report.Checked++
		resp, err := w.minter.Mint(ctx, MintRequest{Account: rec.Account, AmountMicro: rec.NetAmount, Reference: rec.ID})

		status, ref := models.DeliveryPending, ""
		switch {
		case err == nil && !strings.EqualFold(resp.Status, "failed"):
			status, ref = models.DeliveryDelivered, resp.TxID
		case rec.Attempts+1 >= w.maxAttempts:
			status = models.DeliveryFailed
		}
		if err != nil {
			log.Printf("[MINT] Delivery of %s failed (attempt %d/%d): %v", rec.ID, rec.Attempts+1, w.maxAttempts, err)
		}

		if _, merr := w.ledger.MarkDelivery(ctx, rec.ID, status, ref); merr != nil {
			log.Printf("[MINT] Failed to record delivery status for %s: %v", rec.ID, merr)
			continue
		}
		switch status {
		case models.DeliveryDelivered:
			report.Delivered++
		case models.DeliveryFailed:
			report.Failed++
			log.Printf("[MINT] Giving up on delivery of %s after %d attempts", rec.ID, w.maxAttempts)
		}
	}
	return report, nil
}
