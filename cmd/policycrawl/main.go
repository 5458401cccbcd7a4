package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"policycrawl/pkg/api"
	"policycrawl/pkg/classify"
	"policycrawl/pkg/config"
	"policycrawl/pkg/crawl"
	"policycrawl/pkg/fetch"
	"policycrawl/pkg/files"
	"policycrawl/pkg/metrics"
	"policycrawl/pkg/registry"
	"policycrawl/pkg/sitemap"
	"policycrawl/pkg/storage"
)

const (
	dbGCInterval      = 10 * time.Minute
	hostEvictInterval = 5 * time.Minute
	shutdownGrace     = 30 * time.Second
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	logLevelStr := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flag.Parse()

	log := setupLogger(*logLevelStr)

	appCfg, warnings, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	logEntry := log.WithField("component", "main")

	// ===========================================================
	// == Global Context & Signal Handling ==
	// ===========================================================
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")

	store, err := storage.NewBadgerStore(appCfg.StorageDir, logEntry)
	if err != nil {
		log.Fatalf("Failed to initialize session DB: %v", err)
	}
	defer store.Close()
	go store.RunGC(rootCtx, dbGCInterval)

	fileStore, err := files.NewStore(appCfg.FilesDir, appCfg.Crawl.MaxFileSizeBytes, log)
	if err != nil {
		log.Fatalf("Failed to initialize file store: %v", err)
	}

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(httpClient, appCfg, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.DelayPerHost, logEntry)
	discoverer := sitemap.NewDiscoverer(fetcher, log)
	robots := fetch.NewRobotsHandler(fetcher, rateLimiter,
		semaphore.NewWeighted(int64(appCfg.MaxRequests)), discoverer, appCfg, logEntry)

	hostPool := fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, logEntry)
	go hostPool.RunEviction(rootCtx, hostEvictInterval)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	sessionRegistry := registry.New(appCfg.MaxConcurrentCrawls, m, log)

	crawlDeps := crawl.Deps{
		Store:       store,
		Files:       fileStore,
		Fetcher:     fetcher,
		Robots:      robots,
		RateLimiter: rateLimiter,
		Hosts:       hostPool,
		Sitemaps:    discoverer,
		Classifier:  classify.NewClassifier(appCfg.Crawl.ConfidenceThreshold),
		Metrics:     m,
		Cfg:         appCfg,
		Log:         log,
	}

	apiServer := api.NewServer(appCfg, crawlDeps, sessionRegistry, promReg, log)

	httpServer := &http.Server{
		Addr:              appCfg.ListenAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ===========================================================
	// == Serve ==
	// ===========================================================
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", appCfg.ListenAddr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}

	// A second signal forces exit if shutdown hangs
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Warn("Graceful shutdown period exceeded. Forcing exit.")
			os.Exit(1)
		}
	}()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown: %v", err)
	}

	log.Info("Stopping running crawl sessions...")
	sessionRegistry.StopAll()
	cancelRoot()

	log.Info("Shutdown complete")
}

func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}

	return log
}
