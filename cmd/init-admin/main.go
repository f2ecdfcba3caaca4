package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/config"
	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
)

const minPasswordLength = 8

func main() {
	fmt.Println("Voice Gateway - Bootstrap Admin Initialization")
	fmt.Println(strings.Repeat("=", 48))

	username := flag.String("username", os.Getenv("ADMIN_BOOTSTRAP_USERNAME"), "admin username")
	email := flag.String("email", os.Getenv("ADMIN_BOOTSTRAP_EMAIL"), "admin email")
	password := flag.String("password", os.Getenv("ADMIN_BOOTSTRAP_PASSWORD"), "admin password")
	flag.Parse()

	if *username == "" {
		*username = "admin"
	}
	if *email == "" || *password == "" {
		fail("ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD (or -email and -password) must be set")
	}
	if !isValidEmail(*email) {
		fail("Invalid email format: %s", *email)
	}
	if len(*password) < minPasswordLength {
		fail("Password must be at least %d characters long", minPasswordLength)
	}

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DefaultDBConfig(cfg.Database.URL))
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		fail("Failed to apply schema: %v", err)
	}

	repo := storage.NewUserRepository(db)

	admins, err := repo.CountAdmins(ctx)
	if err != nil {
		fail("Failed to check existing users: %v", err)
	}
	if admins > 0 {
		fmt.Printf("INFO: Found %d existing admin user(s). Bootstrap not needed.\n", admins)
		return
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		fail("Failed to hash password: %v", err)
	}

	user := &models.User{
		Username:     *username,
		Email:        *email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin.String(),
		IsActive:     true,
	}
	if err := repo.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			fail("A user named %s or with email %s already exists", *username, *email)
		}
		fail("Failed to create admin user: %v", err)
	}

	fmt.Println("SUCCESS: Bootstrap admin user created")
	fmt.Printf("Username: %s\n", user.Username)
	fmt.Printf("Email: %s\n", user.Email)
	fmt.Printf("ID: %d\n", user.ID)
	fmt.Printf("Created: %s\n", user.CreatedAt.Format(time.RFC3339))
	fmt.Println("\nRemove ADMIN_BOOTSTRAP_PASSWORD from your environment now.")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}

// isValidEmail requires exactly one @ with something on both sides
func isValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && strings.Count(email, "@") == 1
}
