// Command privchat-db bootstraps the Postgres schema privchatd depends
// on. Grounded on tinode-db/main.go and makedb.go's flag-driven
// connect-then-create-or-reset skeleton (--reset, --config), with the
// demo-data-loading path (--data, the User/GroupTopic/GroupSub/P2PUser
// JSON fixtures) dropped: this spec has no seed-data feature, only
// schema bootstrap.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/privchat/privchat/internal/config"
	"github.com/privchat/privchat/internal/store/postgres"
)

func main() {
	var (
		reset      = flag.Bool("reset", false, "drop and recreate every privchat_ table before creating")
		configPath = flag.String("config", "", "path to config.json (JSON with // comments)")
		dsn        = flag.String("dsn", "", "override config's postgres.dsn")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("privchat-db: load config: %v", err)
	}
	if *dsn != "" {
		cfg.Postgres.DSN = *dsn
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal("privchat-db: postgres dsn is required (--dsn or config.postgres.dsn)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("privchat-db: connect: %v", err)
	}
	defer store.Close()

	if *reset {
		log.Println("privchat-db: --reset requested, dropping existing privchat_ tables")
		if err := store.DropSchema(ctx); err != nil {
			log.Fatalf("privchat-db: drop schema: %v", err)
		}
	}

	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("privchat-db: create schema: %v", err)
	}
	log.Println("privchat-db: schema is up to date")
}
