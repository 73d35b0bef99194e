// Command migrate runs schema operations for the backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"framez/internal/config"
	"framez/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate <up|auto|status|down> [steps]")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	if cmd == "auto" {
		// Connect migrates every non-production or SQLite database on open.
		if _, err := database.Connect(cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		log.Println("automigrations applied")
		return nil
	}

	if cfg.DBDriver != "postgres" {
		return fmt.Errorf("sql migrations need DB_DRIVER=postgres, got %q; use auto instead", cfg.DBDriver)
	}
	dsn := database.PostgresURL(cfg)

	switch cmd {
	case "up":
		if err := database.MigrateUp(dsn); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Println("sql migrations applied")
	case "status":
		status, err := database.Status(dsn)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		log.Printf("version=%d dirty=%t pending=%t", status.Version, status.Dirty, status.Pending)
	case "down":
		steps := 1
		if flag.NArg() >= 2 {
			steps, err = strconv.Atoi(flag.Arg(1))
			if err != nil {
				return fmt.Errorf("invalid steps %q: %w", flag.Arg(1), err)
			}
		}
		if err := database.MigrateDown(dsn, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Printf("rolled back %d migration(s)", steps)
	default:
		return usage()
	}
	return nil
}
