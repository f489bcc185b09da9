package handlers

import (
	"net/http"

	"github.com/chessdao/backend/internal/dispatch"
	"github.com/chessdao/backend/internal/escrow"
	"github.com/chessdao/backend/internal/models"
	"github.com/gin-gonic/gin"
)

// CreateGame opens a wager for the authenticated account
func CreateGame(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatch.CreateGameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		req.Creator = accountOf(c)

		res, err := d.CreateGame(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("X-Game-ID", res.Game.ID)
		c.JSON(http.StatusCreated, res)
	}
}

// JoinGame puts the authenticated account into the game as opponent
func JoinGame(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := d.JoinGame(c.Request.Context(), dispatch.JoinGameRequest{
			GameID:   c.Param("id"),
			Opponent: accountOf(c),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// CancelGame withdraws a waiting game created by the authenticated account
func CancelGame(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := d.CancelGame(c.Request.Context(), dispatch.CancelGameRequest{
			GameID:    c.Param("id"),
			Requester: accountOf(c),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ClaimTimeout awards an expired game to the authenticated player
func ClaimTimeout(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := d.ClaimTimeout(c.Request.Context(), dispatch.TimeoutClaimRequest{
			GameID:   c.Param("id"),
			Claimant: accountOf(c),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ResolveGame records the result reported by the chess-rules layer
func ResolveGame(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatch.ResolveGameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		req.GameID = c.Param("id")

		res, err := d.ResolveGame(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GetGame returns one game
func GetGame(e *escrow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, err := e.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

// ListGames returns games newest first. ?status= filters by status, ?mine=true limits to
// games the caller plays in.
func ListGames(e *escrow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := escrow.ListFilter{Limit: queryLimit(c, defaultListLimit)}
		if s := c.Query("status"); s != "" {
			f.Status = models.GameStatus(s)
			if !f.Status.Valid() {
				badRequest(c, "unknown status")
				return
			}
		}
		if c.Query("mine") == "true" {
			f.Account = accountOf(c)
		}

		games, err := e.List(c.Request.Context(), f)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
	}
}

// ListOpenGames returns games waiting for an opponent
func ListOpenGames(e *escrow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		games, err := e.ListOpen(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
	}
}
