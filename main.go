package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broker-core/internal/api"
	"broker-core/internal/engine"
	"broker-core/internal/events"
	"broker-core/internal/ledger"
	"broker-core/internal/monitor"
	"broker-core/internal/reconciliation"
	"broker-core/pkg/brokers"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/calendar"
	"broker-core/pkg/config"
	"broker-core/pkg/credentials"
	"broker-core/pkg/crypto"
	"broker-core/pkg/db"
	"broker-core/pkg/lots"
	"broker-core/pkg/symbols"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting broker-core (broker=%s port=%s)", cfg.Broker, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}
	queries := database.Queries()

	// Credential vault. The paper backend never reads it, so a missing
	// master key only blocks live brokers.
	var vault *credentials.Store
	if keyring, err := crypto.NewKeyring(); err != nil {
		if cfg.Broker != "paper" {
			log.Fatalf("credential keyring failed: %v", err)
		}
		log.Printf("credential vault disabled: %v", err)
	} else {
		vault, err = credentials.Open(cfg.VaultPath, keyring)
		if err != nil {
			log.Fatalf("credential vault failed: %v", err)
		}
	}

	// Reference data
	mapper := symbols.New()
	if cfg.SymbolMapPath != "" {
		if err := mapper.Load(cfg.SymbolMapPath); err != nil {
			log.Fatalf("symbol map load failed: %v", err)
		}
		log.Printf("symbol map loaded from %s", cfg.SymbolMapPath)
	}

	lotTable := lots.NewTable()
	if cfg.LotSizesPath != "" {
		if err := lotTable.ReloadFromCSV(cfg.LotSizesPath); err != nil {
			log.Fatalf("lot sizes load failed: %v", err)
		}
		log.Printf("lot sizes loaded from %s", cfg.LotSizesPath)
	}

	cal := calendar.New()
	if cfg.HolidaysPath != "" {
		if err := cal.LoadHolidays(cfg.HolidaysPath); err != nil {
			log.Fatalf("holiday calendar load failed: %v", err)
		}
		log.Printf("holiday calendar loaded from %s", cfg.HolidaysPath)
	}

	// Backend client with its shared rate limiter
	limiter := common.NewRateLimiter(common.LimitsFor(cfg.Broker))
	client, err := brokers.New(cfg.Broker, vault, limiter)
	if err != nil {
		log.Fatalf("broker init failed: %v", err)
	}

	// Position ledger seeded from DB
	book := ledger.New(queries)
	if err := book.Load(ctx); err != nil {
		log.Fatalf("ledger load failed: %v", err)
	}
	if n := book.Len(); n > 0 {
		log.Printf("restored %d open position(s)", n)
	}

	metrics, metricsHandler := monitor.New()

	eng := engine.New(
		engine.Config{
			Product:         common.ProductType(cfg.ProductType),
			StopDistance:    cfg.StopDistance,
			TrailActivation: cfg.TrailActivation,
			TrailDistance:   cfg.TrailDistance,
			ExitDeadline:    cfg.ExitDeadline,
			FixedQuantity:   cfg.FixedQuantities,
		},
		client, limiter, mapper, lotTable, cal, book, bus, queries, metrics,
	)

	// Backend-wins reconciliation
	recon := reconciliation.NewService(eng, bus, cfg.Broker, cfg.ReconcileInterval)
	recon.Start(ctx)

	// Price tick loop drives the trailing stop state machine for every
	// tracked position.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !cal.IsOpen(time.Now()) {
					continue
				}
				for _, pos := range book.All() {
					price, err := fetchPrice(ctx, client, limiter, pos.BackendSymbol, pos.BackendVenue)
					if err != nil {
						log.Printf("price tick %s: %v", pos.Pair, err)
						continue
					}
					eng.OnPrice(ctx, pos.Pair, price)
				}
			}
		}
	}()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	// API
	server := api.NewServer(&api.Server{
		Bus:           bus,
		Engine:        eng,
		Recon:         recon,
		Calendar:      cal,
		Lots:          lotTable,
		Limiter:       limiter,
		Vault:         vault,
		Queries:       queries,
		Metrics:       metricsHandler,
		JWTSecret:     cfg.JWTSecret,
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
		Meta: api.SystemMeta{
			Broker:  cfg.Broker,
			Pairs:   cfg.TradePairs,
			Version: buildVersion,
		},
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

func fetchPrice(ctx context.Context, client common.Client, limiter *common.RateLimiter, symbol, venue string) (float64, error) {
	if err := limiter.Acquire(ctx, "quote"); err != nil {
		return 0, err
	}
	return client.GetPrice(ctx, symbol, venue)
}
