package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"auditgate/internal/config"
	"auditgate/internal/models"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// Bootstraps the first admin account from ADMIN_BOOTSTRAP_EMAIL and
// ADMIN_BOOTSTRAP_PASSWORD. A no-op when any admin user already exists.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	email := os.Getenv("ADMIN_BOOTSTRAP_EMAIL")
	password := os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")

	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "ERROR: ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD must be set")
		os.Exit(1)
	}
	if !isValidEmail(email) {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid email format: %s\n", email)
		os.Exit(1)
	}
	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "ERROR: Password must be at least 8 characters long")
		os.Exit(1)
	}

	db, err := storage.NewDB(cfg.Database, cfg.Cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := storage.NewAdminUserRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing, err := repo.List(ctx, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check existing users: %v\n", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		fmt.Printf("Found %d existing admin user(s), bootstrap not needed\n", len(existing))
		return
	}

	if _, err := repo.GetByEmail(ctx, email); err == nil {
		fmt.Printf("Admin user %s already exists\n", email)
		return
	} else if !errors.Is(err, storage.ErrAdminUserNotFound) {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check for existing user: %v\n", err)
		os.Exit(1)
	}

	passwordHash, err := utils.HashPasswordArgon2(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	admin := &models.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        pq.StringArray{"admin"},
		Enabled:      true,
	}

	if err := repo.Create(ctx, admin); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Bootstrap admin user created")
	fmt.Printf("  Email: %s\n", admin.Email)
	fmt.Printf("  ID:    %s\n", admin.ID)
	fmt.Println("Unset ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD now.")
}

func isValidEmail(email string) bool {
	at := strings.Count(email, "@")
	return at == 1 && !strings.HasPrefix(email, "@") && !strings.HasSuffix(email, "@")
}
