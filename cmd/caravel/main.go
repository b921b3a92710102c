package main

import (
	"context"
	"log"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-market/caravel/adapters/events"
	"github.com/lumen-market/caravel/adapters/netwatch"
	"github.com/lumen-market/caravel/adapters/store"
	"github.com/lumen-market/caravel/adapters/submit"
	"github.com/lumen-market/caravel/ports"
	"github.com/lumen-market/caravel/service"
	"github.com/lumen-market/caravel/transport/http"
)

func main() {
	ctx := context.Background()

	submitURL := os.Getenv("CARAVEL_SUBMIT_URL")
	if submitURL == "" {
		log.Fatal("CARAVEL_SUBMIT_URL is required")
	}

	counterparties := map[string]service.Counterparty{}
	if raw := os.Getenv("CARAVEL_COUNTERPARTIES"); raw != "" {
		var err error
		counterparties, err = service.ParseCounterparties(raw)
		if err != nil {
			log.Fatalf("Failed to parse counterparty table: %v", err)
		}
	}

	cfg := service.Config{
		IdentityKey:    os.Getenv("CARAVEL_IDENTITY_KEY"),
		Counterparties: counterparties,
	}

	probeURL := os.Getenv("CARAVEL_PROBE_URL")
	if probeURL == "" {
		probeURL = submitURL
	}

	logger := watermill.NewStdLogger(false, false)

	// In-process connectivity bus
	bus := gochannel.NewGoChannel(gochannel.Config{}, logger)

	connectivity, err := bus.Subscribe(ctx, ports.ConnectivityTopic)
	if err != nil {
		log.Fatalf("Failed to subscribe to connectivity events: %v", err)
	}

	// Lifecycle events go through Redis when available so other instances
	// can observe them; otherwise they stay on the in-process bus.
	var (
		lifecycle message.Publisher = bus
		tokens    ports.TokenStore  = store.NewMemoryStore()
	)

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}

		redisClient := redis.NewClient(opts)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			logger,
		)
		if err != nil {
			log.Fatalf("Failed to create Redis publisher: %v", err)
		}

		lifecycle = publisher
		tokens = store.NewRedisStore(redisClient)
	}

	monitor := netwatch.NewMonitor(netwatch.Config{ProbeURL: probeURL}, bus, logger)
	go monitor.Run(ctx)

	submitter := submit.NewHTTPSubmitter(submitURL, cfg.HTTPTimeout)
	eventPub := events.NewWatermillPublisher(lifecycle)

	authService := service.NewAuthService(cfg)
	queue := service.NewQueue(submitter, eventPub, cfg)
	go queue.Run(ctx, connectivity)

	// Setup Gin router
	router := http.SetupRouter(authService, queue, tokens, cfg)

	addr := os.Getenv("CARAVEL_LISTEN")
	if addr == "" {
		addr = ":9000"
	}

	// Start server
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
