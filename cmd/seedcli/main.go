package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/swisspipe/engine/internal/adminsvc"
	"github.com/swisspipe/engine/internal/cronscheduler"
	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/storage/postgres"
)

// Command-line tool to create a workflow from a JSON definition file and
// print its id. THIS is not a production-grade tool, just a simple
// utility for development/testing purposes.
func main() {
	path := flag.String("file", "", "path to a workflow JSON definition (required)")
	pgURL := flag.String("postgres-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.Parse()

	if *path == "" {
		fmt.Println("Error: -file is required")
		flag.Usage()
		os.Exit(1)
	}
	if *pgURL == "" {
		fmt.Println("Error: Postgres URL must be provided via -postgres-url flag or DATABASE_URL env var")
		flag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *path, err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		log.Fatalf("failed to parse workflow JSON: %v", err)
	}

	ctx := context.Background()
	store, err := postgres.NewPostgresStore(ctx, *pgURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	// adminsvc.New requires a cron scheduler to re-arm scheduled
	// triggers; this one-shot CLI only ever creates workflows, so a
	// Scheduler with no Run loop started is enough to satisfy it.
	sched := cronscheduler.New(cronscheduler.DefaultConfig(), postgres.CronRepository{Store: store})
	admin := adminsvc.New(store, sched)

	id, err := admin.CreateWorkflow(ctx, wf)
	if err != nil {
		log.Fatalf("failed to create workflow: %v", err)
	}

	fmt.Printf("workflow created: %s\n", id)
}
