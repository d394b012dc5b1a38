package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gps-distance-tracker/internal/config"
	"gps-distance-tracker/internal/stream"
	"gps-distance-tracker/internal/tracker"
	"gps-distance-tracker/internal/web"
)

var (
	configPath      = flag.String("config", "", "optional YAML config file")
	shutdownTimeout = flag.Duration("shutdown_timeout", 10*time.Second, "live server shutdown timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("received %v, stopping after the current batch", sig)
		cancel()
	}()

	var hub *web.Hub
	var srv *web.Server
	if cfg.LiveAddr != "" {
		hub = web.NewHub()
		srv = web.NewServer(cfg.LiveAddr, hub)
		srv.Start()
	}

	summary := run(ctx, cfg, hub)

	log.Printf("final total distance: %.6f km", summary.TotalDistanceKm)
	log.Printf("total points processed: %d", summary.TotalPoints)

	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("live server shutdown error: %v", err)
		}
	}
}

// run wires the pipeline and drains it to completion: batch source →
// aggregator, one batch at a time, broadcasting the running summary after
// each batch when the live feed is enabled.
func run(ctx context.Context, cfg *config.AppConfig, hub *web.Hub) tracker.Summary {
	throttle := stream.NewThrottle(cfg.MaxConcurrentRequests)
	end := &stream.EndSignal{}
	fetcher := stream.NewFetcher(stream.FetcherConfig{
		URL:         cfg.BaseURL,
		Timeout:     time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		RateLimit:   cfg.RateLimitRPS,
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
	}, throttle, end)
	source := stream.NewBatchSource(fetcher, cfg.BatchSize, end)
	agg := tracker.NewAggregator()

	for batch := range source.Batches(ctx) {
		agg.ProcessBatch(batch)
		s := agg.Summary()
		log.Printf("current distance: %.6f km over %d points", s.TotalDistanceKm, s.TotalPoints)
		if hub != nil {
			hub.Broadcast(s)
		}
	}
	return agg.Summary()
}
