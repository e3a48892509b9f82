package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trialscout/trialscout/internal/augment"
	"github.com/trialscout/trialscout/internal/httpapi"
	"github.com/trialscout/trialscout/internal/telemetry"
	"github.com/trialscout/trialscout/internal/trialstore"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	dbPath := flag.String("db", "trials.db", "Trial store SQLite path")
	tracing := flag.Bool("tracing", false, "Enable OTLP trace export")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *tracing {
		shutdown, err := telemetry.Init(ctx, "match-api")
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = shutdown(sctx)
		}()
	}

	store, err := trialstore.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	var augmenter *augment.Augmenter
	if caller, err := augment.NewAnthropicCallerFromEnv(); err == nil {
		augmenter = augment.New(caller, augment.Options{})
	} else {
		log.Printf("match-api starting without AI rationale: %v", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewServer(store, augmenter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("match-api listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
