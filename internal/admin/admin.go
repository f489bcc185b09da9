package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/chessdao/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Roles understood by the admin API
const (
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
)

var (
	ErrUnknownAdmin = errors.New("admin account not found")
	ErrInvalidToken = errors.New("invalid token")
)

// GetAdminAccount retrieves an admin account by name
func GetAdminAccount(ctx context.Context, db *sqlx.DB, name string) (*models.AdminAccount, error) {
	var acct models.AdminAccount
	err := db.GetContext(ctx, &acct, `SELECT name, display_name, token_hash, roles, created_at, updated_at FROM admin_accounts WHERE name=$1`, name)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// VerifyAdminToken checks if the provided token matches the stored hash
func VerifyAdminToken(hashedToken, plainToken string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken)) == nil
}

// HashToken produces the bcrypt hash stored for an admin token
func HashToken(plainToken string) (string, error) {
	if strings.TrimSpace(plainToken) == "" {
		return "", fmt.Errorf("token is empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plainToken), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashed), nil
}

// CreateAdminAccount creates or replaces an admin account (used for seeding)
func CreateAdminAccount(ctx context.Context, db *sqlx.DB, name, displayName, plainToken string, roles []string) error {
	hashedToken, err := HashToken(plainToken)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO admin_accounts (name, display_name, token_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			token_hash = EXCLUDED.token_hash,
			roles = EXCLUDED.roles,
			updated_at = NOW()
	`, name, displayName, hashedToken, pq.Array(roles))

	return err
}

// HasRole reports whether the account carries role
func HasRole(acct *models.AdminAccount, role string) bool {
	if acct == nil {
		return false
	}
	for _, r := range acct.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LogAdminAction records an admin action in the audit log
func LogAdminAction(ctx context.Context, db *sqlx.DB, adminName, ip, route, action string, details map[string]interface{}, success bool) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		log.Printf("[ADMIN] Failed to marshal audit details: %v", err)
		detailsJSON = []byte("{}")
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO admin_audit (admin_name, ip, route, action, details, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, adminName, ip, route, action, detailsJSON, success)

	if err != nil {
		log.Printf("[ADMIN] Failed to log admin action: %v", err)
	}

	return err
}

// GetAdminAuditLogs retrieves recent admin audit logs with pagination
func GetAdminAuditLogs(ctx context.Context, db *sqlx.DB, limit, offset int) ([]models.AdminAudit, error) {
	var logs []models.AdminAudit
	err := db.SelectContext(ctx, &logs, `
		SELECT id, admin_name, ip, route, action, details, success, created_at
		FROM admin_audit
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return logs, err
}

// ValidateAdminToken validates a name + token combination
func ValidateAdminToken(ctx context.Context, db *sqlx.DB, name, token string) (*models.AdminAccount, error) {
	acct, err := GetAdminAccount(ctx, db, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[ADMIN] No admin account found for %s", name)
			return nil, ErrUnknownAdmin
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if !VerifyAdminToken(acct.TokenHash, token) {
		log.Printf("[ADMIN] Token verification failed for %s", name)
		return nil, ErrInvalidToken
	}

	return acct, nil
}

// Directory serves admin authentication and auditing from Postgres
type Directory struct {
	db *sqlx.DB
}

// NewDirectory creates a Directory over db
func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Authenticate(ctx context.Context, name, token string) (*models.AdminAccount, error) {
	return ValidateAdminToken(ctx, d.db, name, token)
}

// Record writes an audit entry. Failures are logged, never returned.
func (d *Directory) Record(ctx context.Context, adminName, ip, route, action string, details map[string]interface{}, success bool) {
	LogAdminAction(ctx, d.db, adminName, ip, route, action, details, success)
}

func (d *Directory) AuditLogs(ctx context.Context, limit, offset int) ([]models.AdminAudit, error) {
	return GetAdminAuditLogs(ctx, d.db, limit, offset)
}
