package escrow

import (
	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
)

// legal lists every allowed status change
var legal = map[models.GameStatus][]models.GameStatus{
	models.StatusWaiting: {models.StatusActive, models.StatusCancelled},
	models.StatusActive:  {models.StatusCompleted, models.StatusDraw, models.StatusTimeout},
}

// CanTransition reports whether a game in from may move to to
func CanTransition(from, to models.GameStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.GameStatus) error {
	if !CanTransition(from, to) {
		return ledgererr.New(ledgererr.InvalidTransition, "cannot move game from %s to %s", from, to)
	}
	return nil
}
