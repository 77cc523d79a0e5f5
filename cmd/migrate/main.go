// migrate applies the embedded schema migrations to the configured database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/tendant/tourdesk/internal/config"
	"github.com/tendant/tourdesk/internal/db/migrate"
	"github.com/tendant/tourdesk/pkg/repository"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.LoadDatabase()
	url := repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}.URL()

	if err := migrate.Run(url, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	version, dirty, err := migrate.Version(url)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		fmt.Println("schema is empty")
	case err != nil:
		fmt.Fprintln(os.Stderr, "migrate version:", err)
		os.Exit(1)
	default:
		fmt.Printf("schema at version %d (dirty=%t)\n", version, dirty)
	}
}
