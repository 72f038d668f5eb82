package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"coralcam/internal/repository/sqlite"

	"github.com/akamensky/argparse"
)

func main() {
	parser := argparse.NewParser("prune", "Delete old frames from the detection journal")
	dbPath := parser.String("", "db", &argparse.Options{Help: "SQLite detection journal path", Default: "detections.db"})
	olderThan := parser.String("", "older_than", &argparse.Options{Help: "delete frames captured before now minus this duration", Default: "720h"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	keep, err := time.ParseDuration(*olderThan)
	if err != nil || keep <= 0 {
		fmt.Fprintf(os.Stderr, "invalid --older_than %q\n", *olderThan)
		os.Exit(2)
	}

	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Journal not found: %v\n", err)
		os.Exit(1)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := sqlite.NewFrameRepository(db)
	ctx := context.Background()
	cutoff := time.Now().Add(-keep)

	deleted, err := repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Failed to prune journal: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d frames captured before %s\n", deleted, cutoff.Format(time.RFC3339))

	counts, err := repo.LabelCounts(ctx, time.Time{})
	if err == nil && len(counts) > 0 {
		fmt.Println("Remaining detections:")
		for _, c := range counts {
			fmt.Printf("   - %s: %d\n", c.Label, c.Count)
		}
	}
}
