// Package main is the entry point for the LivePilot control loop server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/livepilot/livepilot-go/internal/api"
	"github.com/livepilot/livepilot-go/internal/config"
	"github.com/livepilot/livepilot-go/internal/database"
	"github.com/livepilot/livepilot-go/internal/database/repositories"
	"github.com/livepilot/livepilot-go/internal/services/controller"
	"github.com/livepilot/livepilot-go/internal/services/history"
	"github.com/livepilot/livepilot-go/internal/services/poller"
	"github.com/livepilot/livepilot-go/internal/services/pubsub"
	"github.com/livepilot/livepilot-go/internal/services/rules"
	"github.com/livepilot/livepilot-go/internal/services/sweep"
	"github.com/livepilot/livepilot-go/internal/services/target"
	"github.com/livepilot/livepilot-go/internal/services/version"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	printBanner(cfg)

	// Connect to database
	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close() }()

	log.Println("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migrations complete")

	// Target client for both channels
	client := target.NewClient(target.Config{
		Host:           cfg.TargetHost,
		TCPPort:        cfg.TargetTCPPort,
		UDPPort:        cfg.TargetUDPPort,
		Timeout:        cfg.TargetTimeout,
		MaxRetries:     cfg.TargetRetries,
		InitialBackoff: cfg.TargetBackoff,
	})
	defer client.Close()

	// A saved Target address overrides the env default
	settingRepo := repositories.NewSettingRepository(db)
	if saved, err := settingRepo.FindByKey(context.Background(), "target_host"); err == nil && saved != nil && saved.Value != "" {
		log.Printf("📡 Loading saved Target host: %s", saved.Value)
		client.ReloadHost(saved.Value)
	}

	// Rules document: parameter ranges plus rulesets
	loader, err := rules.NewLoader(cfg.RulesPath)
	if err != nil {
		log.Fatalf("Failed to load rules from %s: %v", cfg.RulesPath, err)
	}

	pollerService := poller.NewService(poller.Config{
		RateHz:         cfg.PollRateHz,
		BufferSize:     cfg.PollBufferSize,
		FailBackoff:    cfg.PollFailBackoff,
		DriftThreshold: cfg.PollDriftThreshold,
		DriftThrottle:  cfg.PollDriftThrottle,
	}, client, loader.Parameters())

	engine := rules.NewEngine(client)
	engine.ReplaceRuleSets(loader.RuleSets())

	sweepEngine := sweep.NewEngine(client, sweep.NewLimiter(50*time.Millisecond), cfg.SweepWriteRateHz)

	// Event fanout and best-effort persistence
	events := pubsub.New()
	triggerRepo := repositories.NewTriggerEventRepository(db)
	sessionRepo := repositories.NewSweepSessionRepository(db)
	recorder := history.NewRecorder(triggerRepo, sessionRepo, 256)
	recorder.Start()

	engine.OnRecords = func(records []rules.ExecutionRecord) {
		recorder.RecordTriggers(records)
		for _, rec := range records {
			events.Publish(pubsub.TopicRuleTriggered, rec.RuleSetID, rec)
		}
	}
	sweepEngine.OnSessionEnd = func(ev sweep.SessionEvent) {
		recorder.RecordSweep(ev)
		events.Publish(pubsub.TopicSweepState, ev.Class, ev)
	}
	pollerService.AddCallback(func(snap *poller.Snapshot) {
		events.PublishAll(pubsub.TopicSnapshot, snap)
	})

	ctrl := controller.New(pollerService, engine, sweepEngine)
	ctrl.Start(true)

	if cfg.RulesWatch {
		stopWatch, err := loader.Watch(engine)
		if err != nil {
			log.Printf("⚠️  Rules hot-reload disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	// Periodic status fanout for monitor clients
	statusStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				events.PublishAll(pubsub.TopicStatus, ctrl.Status())
			case <-statusStop:
				return
			}
		}
	}()

	server := api.NewServer(ctrl, pollerService, engine, sweepEngine, triggerRepo, events)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cleanup in reverse order
	close(statusStop)
	ctrl.Stop()
	for _, ks := range sweepEngine.Status().Keys {
		sweepEngine.StopSweep(sweep.Key{Track: ks.Track, Device: ks.Device, Parameter: ks.Parameter})
	}
	recorder.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	info := version.Get()
	fmt.Println("============================================")
	fmt.Println("  LivePilot Control Loop Server")
	fmt.Printf("  Version: %s\n", info.Version)
	fmt.Printf("  Build:   %s\n", info.BuildTime)
	fmt.Printf("  Commit:  %s\n", info.GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Target:      %s (tcp %d / udp %d)\n", cfg.TargetHost, cfg.TargetTCPPort, cfg.TargetUDPPort)
	fmt.Printf("  Poll rate:   %.1f Hz\n", cfg.PollRateHz)
	fmt.Printf("  Rules:       %s (watch: %v)\n", cfg.RulesPath, cfg.RulesWatch)
	fmt.Println("============================================")
}
