package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/DilyaSoft/Time-off-company-manager/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn = flag.String("dsn", os.Getenv("TIMEOFF_PG_DSN"), "PostgreSQL DSN")
		dir = flag.String("dir", "", "Read migrations from this directory instead of the embedded set")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TIMEOFF_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var files fs.FS = migrate.Embedded()
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, files)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var last string
		last, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", last)
		}
	case "status":
		var applied, pending []string
		applied, pending, err = mgr.Status(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		for _, name := range pending {
			fmt.Println("pending", name)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
