package main // Entry point package

import (
	"context" // Context for the background workers
	"log"     // Logging library

	"github.com/joho/godotenv"    // Loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/proximity-ticket-handshake/internal/config"     // Internal config loader
	"github.com/iliyamo/proximity-ticket-handshake/internal/database"   // MySQL connector
	"github.com/iliyamo/proximity-ticket-handshake/internal/expiry"     // Validity window enforcer
	"github.com/iliyamo/proximity-ticket-handshake/internal/handler"    // HTTP handlers
	"github.com/iliyamo/proximity-ticket-handshake/internal/middleware" // Rate limiting
	"github.com/iliyamo/proximity-ticket-handshake/internal/queue"      // Broker consumer
	"github.com/iliyamo/proximity-ticket-handshake/internal/realtime"   // Status pub/sub
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository" // DB repositories
	"github.com/iliyamo/proximity-ticket-handshake/internal/router"     // Route registration
	"github.com/iliyamo/proximity-ticket-handshake/internal/service"    // Handshake core
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it the status streams degrade to
	// snapshot polling and rate limiting is disabled.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; realtime streams degrade to polling")
	}

	actors := repository.NewActorRepo(db)
	sessions := repository.NewSessionRepo(db)
	tickets := repository.NewTicketRepo(db)
	tokens := repository.NewTransferTokenRepo(db)
	ops := repository.NewPendingOperationRepo(db)

	ledger := service.NewLedger(db, tickets, tokens, ops, actors)
	pub := realtime.NewPublisher(rdb)
	issuer := service.NewTransferTokenIssuer(ledger, cfg.TokenTTL)
	relay := service.NewRelay(ledger, ledger, issuer, ledger, pub, service.QueueNotifier{}, cfg.OperationTTL)
	claims := service.NewClaimService(issuer, relay, ledger, ledger, ledger, pub, service.QueueNotifier{})
	subs := realtime.NewSubscriber(rdb, ledger)

	// Background workers. The enforcer owns every expiry transition;
	// the consumer drains the completion queue into logs/handshake.log.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enforcer := expiry.NewEnforcer(tokens, ops, pub, cfg.SweepInterval)
	go enforcer.Run(ctx)
	go func() {
		if err := queue.StartHandshakeConsumer(); err != nil {
			log.Printf("handshake-consumer: %v", err)
		}
	}()

	e := echo.New()
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, actors, sessions, tickets), cfg.JWTSecret)
	router.RegisterHandshake(e, handler.NewHandshakeHandler(relay, subs), cfg.JWTSecret, limit)
	router.RegisterClaim(e, handler.NewClaimHandler(claims, ledger), cfg.JWTSecret, limit)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
