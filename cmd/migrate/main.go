package main

// Run database migrations:
//   go run ./cmd/migrate [-timeout 2m] [up|down|redo|status|version]

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"docvault-backend/internal/shared/config"
	"docvault-backend/internal/shared/storage/db"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "abort the migration after this long")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-timeout d] [%s]\n", strings.Join(db.MigrateCommands(), "|"))
		flag.PrintDefaults()
	}
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg := config.Load()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("migrate: DATABASE_URL is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFor(db.ProfileMigrate))
	if err != nil {
		log.Printf("migrate: connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	start := time.Now()
	if err := db.Migrate(ctx, sqlDB, command); err != nil {
		log.Printf("migrate: %v", err)
		sqlDB.Close()
		os.Exit(1)
	}
	log.Printf("migrate: %s complete in %s", command, time.Since(start).Round(time.Millisecond))
}
