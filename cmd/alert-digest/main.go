package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/trialscout/trialscout/internal/augment"
	"github.com/trialscout/trialscout/internal/digest"
	"github.com/trialscout/trialscout/internal/eligibility"
	"github.com/trialscout/trialscout/internal/match"
	"github.com/trialscout/trialscout/internal/trialstore"
)

func main() {
	dbPath := flag.String("db", "trials.db", "Trial store SQLite path")
	outDir := flag.String("out", "digests", "Output directory for digest files")
	pdf := flag.Bool("pdf", false, "Also render PDF via headless Chromium")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := trialstore.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	subs, err := store.ListSubscriptions()
	if err != nil {
		log.Fatal(err)
	}
	trials, err := store.ListTrials()
	if err != nil {
		log.Fatal(err)
	}
	cache := eligibility.NewCache()
	for i := range trials {
		cache.Enrich(&trials[i])
	}

	var augmenter *augment.Augmenter
	if caller, err := augment.NewAnthropicCallerFromEnv(); err == nil {
		augmenter = augment.New(caller, augment.Options{})
	} else {
		log.Printf("alert-digest running without AI rationale: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}
	var renderer *digest.ChromiumPDFRenderer
	if *pdf {
		renderer = digest.NewChromiumPDFRenderer()
	}

	for _, sub := range subs {
		results, err := match.Match(sub.Profile, trials, match.Options{IncludeClosed: sub.IncludeClosed})
		if err != nil {
			log.Printf("alert-digest subscription %s skipped: %v", sub.ID, err)
			continue
		}
		if len(results) > sub.TopK {
			results = results[:sub.TopK]
		}
		results = augmenter.Augment(ctx, sub.Profile, results)

		d := digest.Build(sub, results, time.Now().UTC())
		htmlDoc, err := digest.RenderHTML(d)
		if err != nil {
			log.Printf("alert-digest subscription %s render failed: %v", sub.ID, err)
			continue
		}
		base := filepath.Join(*outDir, sub.ID)
		if err := os.WriteFile(base+".html", []byte(htmlDoc), 0o644); err != nil {
			log.Printf("alert-digest subscription %s write failed: %v", sub.ID, err)
			continue
		}
		if renderer != nil {
			blob, err := renderer.Render(ctx, d)
			if err != nil {
				log.Printf("alert-digest subscription %s pdf failed: %v", sub.ID, err)
			} else if err := os.WriteFile(base+".pdf", blob, 0o644); err != nil {
				log.Printf("alert-digest subscription %s pdf write failed: %v", sub.ID, err)
			}
		}
		log.Printf("alert-digest subscription %s: %d results", sub.ID, len(results))
	}
}
