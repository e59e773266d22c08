package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/durasql/actor"
	"github.com/maxpert/durasql/admin"
	"github.com/maxpert/durasql/authorizer"
	"github.com/maxpert/durasql/cfg"
	"github.com/maxpert/durasql/storage"
	"github.com/maxpert/durasql/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("host_id", cfg.Config.HostID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("durasql - durable actor storage")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	policy, err := authorizer.NewPolicy(authorizer.Config{
		ReservedPatterns: cfg.Config.Policy.ReservedPatterns,
		VTableModules:    cfg.Config.Policy.VTableModules,
		DeniedFunctions:  cfg.Config.Policy.DeniedFunctions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid authorizer policy")
	}

	log.Info().Str("path", cfg.CatalogDir()).Msg("Opening actor catalog")
	catalog, err := actor.OpenCatalog(cfg.CatalogDir())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open actor catalog")
	}

	sc := cfg.Config.Storage
	host, err := actor.NewHost(actor.HostOptions{
		Dir: cfg.ActorsDir(),
		Storage: storage.Options{
			Policy:             policy,
			StatementCacheSize: sc.StatementCacheSize,
			CompressThreshold:  sc.CompressThresholdBytes,
			BusyTimeout:        time.Duration(sc.BusyTimeoutMS) * time.Millisecond,
			JournalMode:        sc.JournalMode,
			VoluntarySizeLimit: sc.VoluntarySizeLimitBytes,
		},
		MailboxSize: sc.MailboxSize,
		Catalog:     catalog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize actor host")
	}

	collector := telemetry.NewMetricsCollector(host, 15*time.Second)
	collector.Start()

	var server *http.Server
	if cfg.Config.Admin.Enabled {
		server = startAdminServer(host, catalog)
	}

	log.Info().
		Str("data_dir", cfg.Config.DataDir).
		Bool("admin", cfg.Config.Admin.Enabled).
		Msg("durasql started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}
	collector.Stop()
	host.Close()
	if err := catalog.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close catalog")
	}
}

func startAdminServer(host *actor.Host, catalog *actor.Catalog) *http.Server {
	addr := net.JoinHostPort(cfg.Config.Admin.BindAddress, strconv.Itoa(cfg.Config.Admin.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           admin.NewRouter(admin.NewAdminHandlers(host, catalog), cfg.Config.Admin.Secret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Admin server failed")
		}
	}()
	return server
}
