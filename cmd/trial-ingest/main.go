package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trialscout/trialscout/internal/registry"
	"github.com/trialscout/trialscout/internal/trial"
	"github.com/trialscout/trialscout/internal/trialstore"
)

func main() {
	baseURL := flag.String("registry-url", registry.DefaultBaseURL, "Trials registry base URL")
	condition := flag.String("condition", "", "Condition filter, e.g. \"breast cancer\"")
	status := flag.String("status", "", "Recruitment status filter, e.g. RECRUITING")
	since := flag.String("updated-since", "", "Only records updated on or after YYYY-MM-DD")
	maxStudies := flag.Int("max-studies", registry.DefaultMaxStudies, "Maximum records to fetch")
	dbPath := flag.String("db", "trials.db", "Trial store SQLite path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := registry.NewClient(registry.Config{BaseURL: *baseURL, MaxStudies: *maxStudies})
	store, err := trialstore.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	log.Printf("trial-ingest fetching from %s (condition=%q)", *baseURL, *condition)
	raws, err := client.FetchStudies(ctx, registry.Query{
		Condition:    *condition,
		Status:       *status,
		UpdatedSince: *since,
	})
	if err != nil {
		log.Fatalf("trial-ingest fetch failed: %v", err)
	}

	trials, dropped, errs := trial.NormalizeBatch(raws)
	for _, e := range errs {
		log.Printf("trial-ingest dropped record: %v", e)
	}

	stored := 0
	for _, t := range trials {
		if err := store.UpsertTrial(t); err != nil {
			log.Printf("trial-ingest store failed: %v", err)
			continue
		}
		stored++
	}
	log.Printf("trial-ingest done: fetched=%d stored=%d dropped=%d", len(raws), stored, dropped)
}
