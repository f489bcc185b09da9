package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/chessdao/backend/internal/admin"
	"github.com/chessdao/backend/internal/config"
	"github.com/chessdao/backend/internal/database"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "ops"
		log.Printf("Using default admin name: %s", name)
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		log.Fatalf("ADMIN_TOKEN must be set")
	}

	displayName := os.Getenv("ADMIN_DISPLAY_NAME")
	if displayName == "" {
		displayName = "Operator"
	}

	roles := []string{admin.RoleOperator}
	if r := os.Getenv("ADMIN_ROLES"); r != "" {
		roles = strings.Split(r, ",")
	}

	if err := admin.CreateAdminAccount(ctx, db, name, displayName, adminToken, roles); err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}

	log.Printf("Admin account created/updated")
	log.Printf("  Name: %s", name)
	log.Printf("  Display Name: %s", displayName)
	log.Printf("  Roles: %v", roles)
	log.Println("Send X-Admin-Name and X-Admin-Token headers to /api/v1/admin/*")
}
