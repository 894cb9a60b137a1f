package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"postbot/internal/storage"
	"postbot/migrations"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := args[0]

	if cmd == "jobs" {
		if err := listJobs(ctx, *dbPath); err != nil {
			log.Fatalf("%s: %v", cmd, err)
		}
		return
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	switch cmd {
	case "up":
		err = goose.UpContext(ctx, db, ".")
	case "up-one":
		err = goose.UpByOneContext(ctx, db, ".")
	case "down":
		err = goose.DownContext(ctx, db, ".")
	case "status":
		err = goose.StatusContext(ctx, db, ".")
	case "version":
		err = goose.VersionContext(ctx, db, ".")
	case "reset":
		err = goose.ResetContext(ctx, db, ".")
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [-db path] <command>

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations
  jobs        List persisted scheduled jobs

The database path defaults to $DATABASE_PATH (a .env file is read if present).`)
}

// listJobs prints the scheduled_jobs table. Opening the store applies any
// pending migrations first.
func listJobs(ctx context.Context, path string) error {
	store, err := storage.NewSQLite(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRIGGER\tNEXT RUN\t")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s (%s)\t\n", j.ID, j.Trigger.Kind,
			j.NextRunAt.UTC().Format(time.RFC3339), humanize.RelTime(j.NextRunAt, now, "ago", "from now"))
	}
	return w.Flush()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
