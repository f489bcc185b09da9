package handlers

import (
	"net/http"
	"strconv"

	"github.com/chessdao/backend/internal/accounts"
	"github.com/chessdao/backend/internal/dispatch"
	"github.com/chessdao/backend/internal/exchange"
	"github.com/chessdao/backend/internal/fees"
	"github.com/chessdao/backend/internal/models"
	"github.com/gin-gonic/gin"
)

type balanceResponse struct {
	Account      string `json:"account"`
	Game         int64  `json:"game"`
	Chess        int64  `json:"chess"`
	ChessDisplay string `json:"chess_display"`
	SwappedToday int64  `json:"swapped_today"`
	PendingSwap  bool   `json:"pending_swap"`
	LastUpdated  string `json:"last_updated,omitempty"`
}

// GetBalance returns both token balances of the authenticated account
func GetBalance(l *accounts.Ledger, x *exchange.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := l.Get(c.Request.Context(), accountOf(c))
		if err != nil {
			respondError(c, err)
			return
		}

		resp := balanceResponse{
			Account:      b.Account,
			Game:         b.Game,
			Chess:        b.Chess,
			ChessDisplay: fees.FormatChess(b.Chess),
			SwappedToday: x.UsedToday(b),
			PendingSwap:  b.PendingExchange != nil,
		}
		if !b.LastUpdated.IsZero() {
			resp.LastUpdated = b.LastUpdated.UTC().Format("2006-01-02T15:04:05Z")
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Swap converts between GAME and CHESS for the authenticated account
func Swap(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatch.SwapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		req.Account = accountOf(c)

		res, err := d.Swap(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// SwapHistory returns the caller's swaps, newest first
func SwapHistory(x *exchange.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := x.History(c.Request.Context(), accountOf(c), queryLimit(c, exchange.DefaultHistoryLimit))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exchanges": records, "count": len(records)})
	}
}

// SwapRates returns the exchange terms
func SwapRates(x *exchange.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, x.Rates())
	}
}

// SwapQuote prices ?from_token=&amount= without executing it
func SwapQuote(x *exchange.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
		if err != nil {
			badRequest(c, "amount must be an integer")
			return
		}
		q, err := x.Quote(models.Token(c.Query("from_token")), amount)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, q)
	}
}
