package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tagcache/pkg/config"
	"github.com/nicktill/tagcache/pkg/mirror"
	"github.com/nicktill/tagcache/pkg/server"
	"github.com/nicktill/tagcache/pkg/server/monitor"
	"github.com/nicktill/tagcache/pkg/source/postgres"
	"github.com/nicktill/tagcache/pkg/storage/sqlite"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
	taskGracePeriod    = 5 * time.Second
)

func main() {
	log.Println("🚀 Starting TagCache server...")

	configPath := "config.yaml"
	if v := os.Getenv("TAGCACHE_CONFIG"); v != "" {
		configPath = v
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	log.Printf("⚙️  Configuration: interval=%v retention=%v lookback=%v store=%s",
		cfg.Sync.UpdateInterval(), cfg.Sync.RetentionWindow(), cfg.Sync.InitialLookback(), cfg.Store.Path)

	log.Println("💾 Opening local wide-table store...")
	store, err := sqlite.New(sqlite.Config{
		Path:          cfg.Store.Path,
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
	if err != nil {
		log.Fatalf("❌ Failed to open store: %v", err)
	}
	defer store.Close()
	log.Println("✅ Local store ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("🔌 Connecting to historian...")
	src, err := postgres.Connect(ctx, postgres.Config{
		URL:            cfg.Source.URL,
		HistoryTable:   cfg.Source.HistoryTable,
		TagTable:       cfg.Source.TagTable,
		ConnectTimeout: cfg.Source.ConnectTimeout(),
		MaxRetries:     cfg.Source.MaxRetries,
		RetryDelay:     cfg.Source.RetryDelay(),
		DefaultFill:    cfg.Sync.DefaultFill,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to historian: %v", err)
	}
	defer src.Close()

	tags := mirror.NewTagSet()
	svc := mirror.New(mirror.Config{
		UpdateInterval:     cfg.Sync.UpdateInterval(),
		RetentionWindow:    cfg.Sync.RetentionWindow(),
		InitialLookback:    cfg.Sync.InitialLookback(),
		BatchSize:          cfg.Sync.BatchSize,
		MaxInMemoryRecords: cfg.Sync.MaxInMemoryRecords,
		DefaultFill:        cfg.Sync.DefaultFill,
		StatusInterval:     cfg.Sync.StatusInterval(),
	}, store, src, tags)

	// A service that goes three intervals without a good cycle is stale.
	cycleMonitor := monitor.NewCycleMonitor(3 * cfg.Sync.UpdateInterval())
	svc.SetObserver(cycleMonitor)

	log.Println("📥 Running initial load...")
	if err := svc.InitialLoad(ctx); err != nil {
		log.Fatalf("❌ Initial load failed: %v", err)
	}
	cycleMonitor.RecordSuccess()
	if status, err := svc.Status(ctx); err == nil {
		log.Printf("✅ Initial load complete: %s", status)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.RunStatusReporter(ctx)
	}()
	log.Printf("📤 Status reporter started (every %v)", cfg.Sync.StatusInterval())

	storageMonitor := monitor.NewStorageMonitor(cfg.Store.Path)
	router := mux.NewRouter()
	server.SetupRoutes(router, svc, cycleMonitor, storageMonitor)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Diagnostic server on http://localhost:%s", cfg.Server.Port)
		log.Println("   GET /health      - sync health")
		log.Println("   GET /v1/status   - sync status snapshot")
		log.Println("   GET /v1/storage  - local database size")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ Background tasks stopped cleanly")
	case <-time.After(taskGracePeriod):
		log.Println("⚠️  Background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 TagCache server exited cleanly")
}
