package escrow

import (
	"context"
	"log"
)

// ReconcileReport summarises one reconciliation pass
type ReconcileReport struct {
	Checked int      `json:"checked"`
	Settled int      `json:"settled"`
	Failed  []string `json:"failed,omitempty"`
}

// Reconcile finds terminal games whose payouts were not fully credited and finishes them.
// Credits are deduplicated per balance, so running it concurrently with a live settlement
// or twice in a row never pays twice.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	games, err := s.List(ctx, ListFilter{})
	if err != nil {
		return report, err
	}

	for _, g := range games {
		if !g.Status.IsTerminal() || g.Settled {
			continue
		}
		report.Checked++

		if _, err := s.completeSettlement(ctx, g); err != nil {
			log.Printf("[RECONCILE] Game %s (%s) still pending: %v", g.ID, g.Status, err)
			report.Failed = append(report.Failed, g.ID)
			continue
		}
		report.Settled++
		log.Printf("[RECONCILE] Game %s (%s) settled: payouts=%v", g.ID, g.Status, g.Payouts)
	}

	if report.Checked > 0 {
		log.Printf("[RECONCILE] Games pass done: checked=%d settled=%d failed=%d", report.Checked, report.Settled, len(report.Failed))
	}
	return report, nil
}
