package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"swapvault/internal/admin"
	"swapvault/internal/asset"
	"swapvault/internal/config"
	"swapvault/internal/core"
	"swapvault/internal/ingestion"
	"swapvault/internal/observability"
	"swapvault/internal/persistence"
	"swapvault/internal/pool"
	"swapvault/internal/query"
	"swapvault/internal/server"
	"swapvault/internal/vault"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: swapvault starting...")

	cfg, err := config.Load(os.Getenv("SWAPVAULT_CONFIG"))
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Asset environment ---
	reference := asset.NewMemToken(cfg.ReferenceSymbol, cfg.ReferenceDecimals)
	wrapped := asset.NewWrappedNative(cfg.WrappedSymbol, cfg.WrappedDecimals)

	registry := asset.NewRegistry()
	registry.Register(reference)
	registry.Register(wrapped)

	pools := pool.NewRegistry()
	if cfg.PoolReserveWrapped > 0 && cfg.PoolReserveRef > 0 {
		poolAddr := asset.Address(cfg.PoolAddress)
		wrapped.Mint(poolAddr, cfg.PoolReserveWrapped)
		reference.Mint(poolAddr, cfg.PoolReserveRef)
		pools.Register(pool.NewMemPool(poolAddr, wrapped, reference))
		log.Printf("INFO: seeded %s/%s pool at %s (reserves %d/%d)",
			cfg.WrappedSymbol, cfg.ReferenceSymbol, cfg.PoolAddress,
			cfg.PoolReserveWrapped, cfg.PoolReserveRef)
	} else {
		log.Println("WARN: no pool reserves configured, swap deposits will fail")
	}

	// --- Ledger and admin control ---
	ledger := vault.NewLedger(cfg.InitialCap)

	admins := make([]asset.Address, 0, len(cfg.AdminAddresses))
	for _, a := range cfg.AdminAddresses {
		admins = append(admins, asset.Address(a))
	}
	if len(admins) == 0 {
		log.Println("WARN: no admin addresses configured, admin operations disabled")
	}
	control := admin.NewController(admins...)

	// --- Replay: rebuild ledger state from the receipt log ---
	lastSeq, err := persistence.Replay(ctx, db, ledger, control)
	if err != nil {
		log.Fatalf("FATAL: replay failed: %v", err)
	}

	// --- Channels ---
	persistChan := make(chan core.Output, cfg.PersistChanSize)
	publishChan := make(chan core.Output, cfg.PublishChanSize)

	// --- Core ---
	dbChecker := persistence.NewPostgresDedupeChecker(db)
	vaultCore := core.NewVaultCore(core.Config{
		VaultAddress:   asset.Address(cfg.VaultAddress),
		Reference:      reference,
		Wrapped:        wrapped,
		Assets:         registry,
		Swapper:        pool.NewAdapter(pools),
		Ledger:         ledger,
		Control:        control,
		DedupeCapacity: cfg.DedupeCapacity,
		DBDedupe:       dbChecker,
		Metrics:        metrics,
		PersistChan:    persistChan,
		PublishChan:    publishChan,
	})
	vaultCore.SeedSequence(lastSeq)
	metrics.SetVaultTotals(ledger.Totals())

	// --- LRU warming from the tier-2 store ---
	if keys, err := dbChecker.RecentKeys(ctx, cfg.DedupeWarmLimit); err != nil {
		log.Printf("WARN: dedupe warm failed: %v", err)
	} else if len(keys) > 0 {
		vaultCore.WarmDedupe(keys)
		log.Printf("INFO: warmed dedupe LRU with %d keys", len(keys))
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	rawChan := make(chan ingestion.RawRequest, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	publishableChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	publisher := ingestion.NewOutboundPublisher(js, publishableChan)

	// --- Query service and HTTP server ---
	queryService := query.NewService(db, metrics)
	httpServer := server.New(cfg.HTTPAddr, &server.Deps{
		Core:          vaultCore,
		Query:         queryService,
		HealthChecker: healthChecker,
		AdminToken:    cfg.AdminToken,
	})

	// --- Goroutines ---
	errChan := make(chan error, 8)

	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// Bridge committed outputs into the outbound publisher format. Drops
	// when the publisher lags; the receipt log remains the source of truth.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case out, ok := <-publishChan:
				if !ok {
					return
				}
				select {
				case publishableChan <- ingestion.PublishableEvent{
					Sequence:       out.Envelope.Sequence,
					EventType:      out.Envelope.EventType.String(),
					IdempotencyKey: out.Envelope.IdempotencyKey,
					Payload:        out.Envelope.Event,
					Timestamp:      out.Envelope.Timestamp,
				}:
				default:
					metrics.PublishDrops.Inc()
				}
			}
		}
	}()

	go runRequestLoop(ctx, rawChan, vaultCore)

	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	// Channel depth gauges.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			}
		}
	}()

	healthChecker.SetSubsystem("postgres", true)
	healthChecker.SetSubsystem("nats", true)
	healthChecker.SetReady(true)

	log.Printf("INFO: swapvault ready (sequence=%d, http=%s)", lastSeq, cfg.HTTPAddr)

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	cancel()
	subscriber.Stop()

	// Let the persistence worker run its final flush.
	time.Sleep(500 * time.Millisecond)

	log.Println("INFO: swapvault shutdown complete")
}

// runRequestLoop drains NATS requests into the core. Core errors are
// deterministic (validation, duplicates, policy), so messages are acked
// either way; redelivery would produce the same outcome.
func runRequestLoop(ctx context.Context, rawChan <-chan ingestion.RawRequest, vaultCore *core.VaultCore) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			switch raw.RequestType {
			case "Deposit":
				req, err := ingestion.ParseDepositRequest(raw.Data)
				if err != nil {
					log.Printf("WARN: parse deposit (subject=%s): %v", raw.Subject, err)
					raw.AckFunc()
					continue
				}
				if _, err := vaultCore.Deposit(req); err != nil {
					log.Printf("WARN: deposit %s rejected: %v", req.DepositID, err)
				}
				raw.AckFunc()

			case "Withdrawal":
				req, err := ingestion.ParseWithdrawalRequest(raw.Data)
				if err != nil {
					log.Printf("WARN: parse withdrawal (subject=%s): %v", raw.Subject, err)
					raw.AckFunc()
					continue
				}
				if err := vaultCore.Withdraw(req); err != nil {
					log.Printf("WARN: withdrawal %s rejected: %v", req.WithdrawalID, err)
				}
				raw.AckFunc()

			default:
				log.Printf("WARN: unknown request type %s (subject=%s)", raw.RequestType, raw.Subject)
				raw.AckFunc()
			}
		}
	}
}
