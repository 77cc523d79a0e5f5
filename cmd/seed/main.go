// seed creates a user, or resets the password of an existing one.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/tourdesk/internal/config"
	"github.com/tendant/tourdesk/internal/seed"
	"github.com/tendant/tourdesk/pkg/auth"
	"github.com/tendant/tourdesk/pkg/repository"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadSeed()

	email := flag.String("email", cfg.Seed.Email, "user email (SEED_USER_EMAIL)")
	name := flag.String("name", cfg.Seed.Name, "display name (SEED_USER_NAME)")
	role := flag.String("role", cfg.Seed.Role, "admin, editor or customer (SEED_USER_ROLE)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	password := cfg.Seed.Password
	if password == "" {
		logger.Error("SEED_USER_PASSWORD is required")
		os.Exit(1)
	}

	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := repository.NewUsersRepository(db)
	passwords := auth.NewPasswordService(users, repository.NewCredentialsRepository(db)).WithPolicy(auth.PasswordPolicy{
		MinLength:        cfg.PasswordPolicy.MinLength,
		RequireUppercase: cfg.PasswordPolicy.RequireUppercase,
		RequireLowercase: cfg.PasswordPolicy.RequireLowercase,
		RequireNumber:    cfg.PasswordPolicy.RequireNumber,
		RequireSpecial:   cfg.PasswordPolicy.RequireSpecial,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, created, err := seed.EnsureUser(ctx, users, passwords, seed.Account{
		Email:    *email,
		Name:     *name,
		Role:     *role,
		Password: password,
	})
	if err != nil {
		logger.Error("failed to seed user", "email", *email, "error", err)
		os.Exit(1)
	}
	logger.Info("seeded user", "user_id", user.ID, "email", user.Email, "created", created)
}
