// Command farmhand-admin seeds an administrator account in the Postgres
// datastore, or resets the password and handle of an existing admin,
// replacing the manual SQL an operator would otherwise run by hand during
// initial deployment. It does not promote an existing non-admin account.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"farmhand.dev/core/internal/auth"
	"farmhand.dev/core/internal/config"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/storage"
)

// idAlphabet matches internal/api's opaque id convention (URL-safe, excludes
// visually ambiguous characters).
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

func newOpaqueID() string {
	const length = 10
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		fatalf("generate id: %v", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}

func main() {
	var (
		postgresDSN string
		email       string
		handle      string
		password    string
	)

	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string (defaults to DATABASE_URL)")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&handle, "handle", "admin", "Handle for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.Parse()

	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}
	if strings.TrimSpace(handle) == "" {
		fatalf("--handle cannot be empty")
	}

	cfg := config.Load()
	dsn := postgresDSN
	if dsn == "" {
		dsn = cfg.DatabaseURL
	}
	if dsn == "" {
		fatalf("--postgres-dsn or DATABASE_URL must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: dsn})
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer repo.Close()

	email = strings.ToLower(strings.TrimSpace(email))
	handle = strings.TrimSpace(handle)

	user, created, err := bootstrapAdmin(ctx, repo, email, handle, password)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Admin user %s (%s) %s successfully.\n", user.Email, user.Handle, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func bootstrapAdmin(ctx context.Context, repo storage.Repository, email, handle, password string) (models.User, bool, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, false, fmt.Errorf("hash password: %w", err)
	}

	existing, err := repo.FindUserByEmail(ctx, email)
	if err == nil {
		if err := repo.UpdateUserPassword(ctx, existing.ID, hash); err != nil {
			return models.User{}, false, fmt.Errorf("update password: %w", err)
		}
		if existing.Handle != handle {
			existing, err = repo.UpdateUserHandle(ctx, existing.ID, handle)
			if err != nil {
				return models.User{}, false, fmt.Errorf("update handle: %w", err)
			}
		}
		if existing.Role != models.RoleAdmin {
			// Repository has no standalone role-update method; promotion to
			// admin for an existing non-admin account must go through a
			// direct migration, not this tool.
			return models.User{}, false, fmt.Errorf("user %s exists with role %q; promote to admin via migration", email, existing.Role)
		}
		existing.PasswordHash = hash
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, false, err
	}

	user, err := repo.CreateUser(ctx, models.User{
		ID:           newOpaqueID(),
		Email:        email,
		Handle:       handle,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return models.User{}, false, fmt.Errorf("create admin user: %w", err)
	}
	return user, true, nil
}
