package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trialscout/trialscout/internal/augment"
	"github.com/trialscout/trialscout/internal/eligibility"
	"github.com/trialscout/trialscout/internal/match"
	"github.com/trialscout/trialscout/internal/trial"
	"github.com/trialscout/trialscout/internal/trialstore"
)

func main() {
	profilePath := flag.String("profile", "", "Patient profile JSON file (required)")
	dbPath := flag.String("db", "trials.db", "Trial store SQLite path")
	topK := flag.Int("top-k", 10, "Number of results to print")
	includeClosed := flag.Bool("include-closed", false, "Score withdrawn/terminated trials too")
	withRationale := flag.Bool("rationale", false, "Request AI rationale for top results")
	flag.Parse()

	if *profilePath == "" {
		log.Fatal("missing required -profile flag")
	}
	blob, err := os.ReadFile(*profilePath)
	if err != nil {
		log.Fatal(err)
	}
	var profile trial.PatientProfile
	if err := json.Unmarshal(blob, &profile); err != nil {
		log.Fatalf("decode profile: %v", err)
	}

	store, err := trialstore.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	trials, err := store.ListTrials()
	if err != nil {
		log.Fatal(err)
	}
	cache := eligibility.NewCache()
	for i := range trials {
		cache.Enrich(&trials[i])
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, err := match.Match(profile, trials, match.Options{IncludeClosed: *includeClosed})
	if err != nil {
		log.Fatal(err)
	}
	if len(results) > *topK {
		results = results[:*topK]
	}

	if *withRationale {
		caller, err := augment.NewAnthropicCallerFromEnv()
		if err != nil {
			log.Fatal(err)
		}
		results = augment.New(caller, augment.Options{TopK: *topK}).Augment(ctx, profile, results)
	}

	fmt.Println(trial.Disclaimer)
	fmt.Println()
	for i, res := range results {
		fmt.Printf("%2d. %s  score=%.3f  %s\n", i+1, res.Trial.NCTID, res.Score, res.Trial.Title)
		if res.AIRationale != nil {
			fmt.Printf("    %s\n", *res.AIRationale)
		}
	}
}
