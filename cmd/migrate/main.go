package main

import (
	"context"
	"log"
	"os"

	"checkout-service/config"
	"checkout-service/internal/store"
)

// Usage: migrate [up|down|status|version|redo|reset] [args...]
func main() {
	command := "up"
	var args []string
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}

	cfg := config.Load()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.GetDB().DB, command, args...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migration %q finished", command)
}
