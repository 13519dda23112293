// Package main is the entry point for the bridge server.
// The single binary runs every component together with shared infrastructure:
// identity, messaging, files, tasks, projects, revisions and status, all over
// one HTTP surface backed by one database.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dylanneve1/agent-bridge/internal/common/config"
	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/common/tracing"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/events/bus"

	fileshandlers "github.com/dylanneve1/agent-bridge/internal/files/handlers"
	filesservice "github.com/dylanneve1/agent-bridge/internal/files/service"
	filesstore "github.com/dylanneve1/agent-bridge/internal/files/store"
	identityhandlers "github.com/dylanneve1/agent-bridge/internal/identity/handlers"
	identityservice "github.com/dylanneve1/agent-bridge/internal/identity/service"
	identitystore "github.com/dylanneve1/agent-bridge/internal/identity/store"
	messaginghandlers "github.com/dylanneve1/agent-bridge/internal/messaging/handlers"
	messagingservice "github.com/dylanneve1/agent-bridge/internal/messaging/service"
	messagingstore "github.com/dylanneve1/agent-bridge/internal/messaging/store"
	projectshandlers "github.com/dylanneve1/agent-bridge/internal/projects/handlers"
	projectsservice "github.com/dylanneve1/agent-bridge/internal/projects/service"
	projectsstore "github.com/dylanneve1/agent-bridge/internal/projects/store"
	revisionshandlers "github.com/dylanneve1/agent-bridge/internal/revisions/handlers"
	revisionsservice "github.com/dylanneve1/agent-bridge/internal/revisions/service"
	revisionsstore "github.com/dylanneve1/agent-bridge/internal/revisions/store"
	statushandlers "github.com/dylanneve1/agent-bridge/internal/status/handlers"
	statusservice "github.com/dylanneve1/agent-bridge/internal/status/service"
	taskshandlers "github.com/dylanneve1/agent-bridge/internal/tasks/handlers"
	tasksservice "github.com/dylanneve1/agent-bridge/internal/tasks/service"
	tasksstore "github.com/dylanneve1/agent-bridge/internal/tasks/store"
)

// version is the server version reported by the banner and /status.
// Overridable at build time with -ldflags "-X main.version=...".
var version = "3.0.0"

var (
	configPathFlag  = flag.String("config", "", "directory containing config.yaml")
	printConfigFlag = flag.Bool("print-config", false, "print the resolved configuration and exit")
)

func main() {
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfigFlag {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting Agent Bridge...", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory unless NATS is configured)
	var eventBus bus.EventBus
	if cfg.Events.NATSURL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.Events.NATSURL))
		natsBus, err := bus.NewNATSEventBus(cfg.Events, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	// 4. Database
	pool, err := db.Open(db.Options{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout(),
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() { _ = pool.Close() }()
	log.Info("Database ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("path", cfg.Database.Path))

	// 5. Stores (each initializes its own schema)
	identityStore, err := identitystore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize identity store", zap.Error(err))
	}
	messagingStore, err := messagingstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize messaging store", zap.Error(err))
	}
	filesStore, err := filesstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize files store", zap.Error(err))
	}
	tasksStore, err := tasksstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize tasks store", zap.Error(err))
	}
	projectsStore, err := projectsstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize projects store", zap.Error(err))
	}
	revisionsStore, err := revisionsstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize revisions store", zap.Error(err))
	}

	// 6. Admin secret (generated and persisted on first boot)
	adminSecret, err := config.ResolveAdminSecret(cfg)
	if err != nil {
		log.Fatal("Failed to resolve admin secret", zap.Error(err))
	}

	// 7. Services
	identitySvc := identityservice.NewService(identityStore, eventBus, log)
	messagingSvc := messagingservice.NewService(messagingStore, eventBus, log)
	filesSvc, err := filesservice.NewService(filesStore, messagingStore, cfg.Files.Dir, eventBus, log)
	if err != nil {
		log.Fatal("Failed to initialize files service", zap.Error(err))
	}
	tasksSvc := tasksservice.NewService(tasksStore, eventBus, log)
	revisionsSvc := revisionsservice.NewService(revisionsStore, eventBus, log)
	projectsSvc := projectsservice.NewService(projectsStore, tasksSvc, revisionsSvc, eventBus, log)
	statusSvc := statusservice.NewService(version, cfg.Database.Driver,
		messagingStore, identityStore, filesSvc, tasksStore, log)

	// 8. Activity log: domain events mirrored to the server log
	registerActivityLogger(eventBus, log)

	// 9. HTTP router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log))
	router.Use(httpmw.OtelTracing("agent-bridge"))

	requireAgent := identityhandlers.RequireAgent(identitySvc, log)

	statushandlers.RegisterRoutes(router, statusSvc, cfg.Server.ExternalURL, log)
	identityhandlers.RegisterRoutes(router, identitySvc, adminSecret, requireAgent, log)
	messaginghandlers.RegisterRoutes(router, messagingSvc, requireAgent, log)
	fileshandlers.RegisterRoutes(router, filesSvc, requireAgent, log)
	taskshandlers.RegisterRoutes(router, tasksSvc, requireAgent, log)
	projectshandlers.RegisterRoutes(router, projectsSvc, requireAgent, log)
	revisionshandlers.RegisterRoutes(router, revisionsSvc, requireAgent, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 10. Serve until signalled, then drain
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down...", zap.String("signal", sig.String()))
		cancel()
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil {
		log.Error("Server error", zap.Error(err))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := tracing.Shutdown(flushCtx); err != nil {
		log.Warn("Tracer shutdown error", zap.Error(err))
	}

	log.Info("Agent Bridge stopped")
}
