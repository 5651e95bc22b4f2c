package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"trafi.io/internal/auth"
	"trafi.io/internal/migrate"
	"trafi.io/internal/obs"
	"trafi.io/internal/store/pg"
	"trafi.io/internal/tenant"
)

const usage = `usage: migrate [flags] <command>

commands:
  up         apply pending migrations
  down       roll back the last migration
  seed       apply SQL files from -seeds
  status     list applied migrations
  bootstrap  create a store and its owner (-store, -email, -password)`

func main() {
	log.SetFlags(0)
	var (
		dsn       = flag.String("dsn", os.Getenv("TRAFI_DATABASE_DSN"), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Directory with SQL seed files")
		storeName = flag.String("store", "", "bootstrap: store name")
		email     = flag.String("email", "", "bootstrap: owner email")
		password  = flag.String("password", os.Getenv("TRAFI_BOOTSTRAP_PASSWORD"), "bootstrap: owner password")
		cost      = flag.Int("bcrypt-cost", auth.PasswordCost, "bootstrap: bcrypt cost")
	)
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TRAFI_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var seeds fs.FS
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	logger := obs.NewLogger(obs.LogConfig{Level: "info", Format: "console"}, os.Stderr)
	defer func() { _ = logger.Sync() }()
	mgr, err := migrate.New(store.DB(), migrate.Schema(), migrate.WithSeeds(seeds), migrate.WithLogger(logger))
	if err != nil {
		log.Fatalf("load migrations: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		var n int
		n, err = mgr.Up(ctx)
		if err == nil {
			fmt.Printf("%d migration(s) applied\n", n)
		}
	case "down":
		var mig migrate.Migration
		mig, err = mgr.Down(ctx)
		if err == nil {
			fmt.Printf("rolled back %s\n", mig)
		}
	case "seed":
		var n int
		n, err = mgr.Seed(ctx)
		if err == nil {
			fmt.Printf("%d seed file(s) applied\n", n)
		}
	case "status":
		var applied []migrate.Applied
		applied, err = mgr.Status(ctx)
		if err == nil {
			for _, a := range applied {
				fmt.Printf("%04d_%s\t%s\n", a.Version, a.Name, a.AppliedAt.Format(time.RFC3339))
			}
		}
	case "bootstrap":
		var (
			storeID string
			owner   auth.User
		)
		storeID, owner, err = tenant.Bootstrap(ctx, store, tenant.BootstrapInput{
			StoreName:    *storeName,
			Email:        *email,
			Password:     *password,
			PasswordCost: *cost,
		})
		if err == nil {
			fmt.Printf("store %s\nowner %s <%s>\n", storeID, owner.ID, owner.Email)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
