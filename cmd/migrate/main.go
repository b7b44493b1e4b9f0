package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"jesi.ai/console/internal/auth"
	"jesi.ai/console/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("JESI_PG_DSN"), "PostgreSQL DSN")
		password = flag.String("demo-password", auth.DemoPassword, "Password hashed into seeded demo accounts")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or JESI_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|seed-demo]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrate.Console())

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "status":
		var status []migrate.Migration
		status, err = mgr.Status(ctx)
		for _, m := range status {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, m.Name)
		}
	case "seed-demo":
		err = seedDemo(ctx, db, *password)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// seedDemo upserts the demo accounts with bcrypt hashes and fresh TOTP
// secrets for accounts that use a second factor.
func seedDemo(ctx context.Context, db *sql.DB, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	dir := auth.NewPGDirectory(db)
	for _, a := range auth.DemoAccounts() {
		a.PasswordHash = hash
		if a.User.MFAEnabled {
			secret, url, err := auth.NewTOTPSecret("Jesi Console", a.User.Email)
			if err != nil {
				return err
			}
			a.TOTPSecret = secret
			fmt.Printf("%s totp: %s\n", a.User.Email, url)
		}
		if err := dir.Upsert(ctx, a); err != nil {
			return fmt.Errorf("seed %s: %w", a.User.Email, err)
		}
		fmt.Println("seeded", a.User.Email)
	}
	return nil
}
