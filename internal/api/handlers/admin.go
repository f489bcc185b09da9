package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/chessdao/backend/internal/accounts"
	"github.com/chessdao/backend/internal/admin"
	"github.com/chessdao/backend/internal/escrow"
	"github.com/chessdao/backend/internal/exchange"
	"github.com/chessdao/backend/internal/models"
	"github.com/gin-gonic/gin"
)

// AdminBackend authenticates operators and keeps their audit trail
type AdminBackend interface {
	Authenticate(ctx context.Context, name, token string) (*models.AdminAccount, error)
	Record(ctx context.Context, adminName, ip, route, action string, details map[string]interface{}, success bool)
	AuditLogs(ctx context.Context, limit, offset int) ([]models.AdminAudit, error)
}

// AdminMiddleware validates X-Admin-Name / X-Admin-Token and requires one of roles
func AdminMiddleware(b AdminBackend, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.GetHeader("X-Admin-Name")
		token := c.GetHeader("X-Admin-Token")
		if name == "" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin credentials required"})
			return
		}

		acct, err := b.Authenticate(c.Request.Context(), name, token)
		if err != nil {
			if errors.Is(err, admin.ErrUnknownAdmin) || errors.Is(err, admin.ErrInvalidToken) {
				b.Record(c.Request.Context(), name, c.ClientIP(), c.FullPath(), "auth", nil, false)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin credentials"})
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin directory unavailable"})
			return
		}

		allowed := len(roles) == 0
		for _, r := range roles {
			if admin.HasRole(acct, r) {
				allowed = true
				break
			}
		}
		if !allowed {
			b.Record(c.Request.Context(), name, c.ClientIP(), c.FullPath(), "forbidden", nil, false)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not permitted"})
			return
		}

		c.Set(adminNameKey, acct.Name)
		c.Next()
	}
}

// AdminReconcile runs one reconciliation pass over games and pending exchange records
func AdminReconcile(b AdminBackend, e *escrow.Service, x *exchange.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		adminName := c.GetString(adminNameKey)

		report, err := e.Reconcile(ctx)
		if err != nil {
			b.Record(ctx, adminName, c.ClientIP(), c.FullPath(), "reconcile", nil, false)
			respondError(c, err)
			return
		}
		appended, err := x.ReconcilePending(ctx)
		if err != nil {
			b.Record(ctx, adminName, c.ClientIP(), c.FullPath(), "reconcile", nil, false)
			respondError(c, err)
			return
		}

		b.Record(ctx, adminName, c.ClientIP(), c.FullPath(), "reconcile", map[string]interface{}{
			"checked":           report.Checked,
			"settled":           report.Settled,
			"failed":            len(report.Failed),
			"exchanges_flushed": appended,
		}, true)
		c.JSON(http.StatusOK, gin.H{
			"games":             report,
			"exchanges_flushed": appended,
		})
	}
}

type depositRequest struct {
	Account   string       `json:"account"`
	Token     models.Token `json:"token"`
	Amount    int64        `json:"amount"`
	Reference string       `json:"reference"`
}

// AdminDeposit credits an account from outside the ledger. Repeating a reference is a no-op.
func AdminDeposit(b AdminBackend, l *accounts.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		adminName := c.GetString(adminNameKey)

		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		details := map[string]interface{}{
			"account":   req.Account,
			"token":     req.Token,
			"amount":    req.Amount,
			"reference": req.Reference,
		}

		bal, applied, err := l.Deposit(ctx, req.Account, req.Token, req.Amount, req.Reference)
		if err != nil {
			b.Record(ctx, adminName, c.ClientIP(), c.FullPath(), "deposit", details, false)
			respondError(c, err)
			return
		}
		details["applied"] = applied
		b.Record(ctx, adminName, c.ClientIP(), c.FullPath(), "deposit", details, true)

		c.JSON(http.StatusOK, gin.H{
			"applied": applied,
			"account": bal.Account,
			"game":    bal.Game,
			"chess":   bal.Chess,
		})
	}
}

// AdminAuditLogs returns recent admin actions
func AdminAuditLogs(b AdminBackend) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := queryLimit(c, defaultListLimit)
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if offset < 0 {
			offset = 0
		}

		logs, err := b.AuditLogs(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load audit logs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
	}
}
