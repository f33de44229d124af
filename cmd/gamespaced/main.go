package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echotools/gamespace/backend"
	"github.com/echotools/gamespace/server"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var (
	version  string = "dev"
	commitID string = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file.")
	showVersion := flag.Bool("version", false, "Print the version and exit.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version + "+" + commitID)
		return
	}

	config := server.NewConfig()
	if *configPath != "" {
		var err error
		if config, err = server.ParseConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, startupLogger := server.SetupLogging(config.Logger)
	startupLogger.Info("Gamespace starting", zap.String("version", version), zap.String("node", config.Name))
	startupLogger.Info("Worlds", zap.String("host_world", config.GameSpace.HostWorld), zap.Strings("lobby_worlds", config.Lobby.Worlds))

	metrics := server.NewLocalMetrics(logger, startupLogger, config)

	ctx, cancel := context.WithCancel(context.Background())
	host := server.NewHost(logger, config, metrics, backend.NewLobbyFactory(logger, config.Lobby))
	hostDone := make(chan struct{})
	go func() {
		host.Run(ctx)
		close(hostDone)
	}()

	router := mux.NewRouter()
	router.HandleFunc("/ws", server.NewSocketWsAcceptor(logger, config, metrics, host)).Methods(http.MethodGet)
	router.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	if config.Metrics.PrometheusPort == 0 {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(logger)))(router)
	handler = handlers.CombinedLoggingHandler(&zapWriter{logger: logger.With(zap.String("component", "http"))}, handler)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%v:%d", config.Socket.Address, config.Socket.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		startupLogger.Info("Starting socket server", zap.Int("port", config.Socket.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLogger.Fatal("Socket server listener failed", zap.Error(err))
		}
	}()

	var prometheusServer *http.Server
	if port := config.Metrics.PrometheusPort; port > 0 {
		prometheusRouter := mux.NewRouter()
		prometheusRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
		prometheusServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           prometheusRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			startupLogger.Info("Starting Prometheus server", zap.Int("port", port))
			if err := prometheusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				startupLogger.Fatal("Prometheus listener failed", zap.Error(err))
			}
		}()
	}

	startupLogger.Info("Startup done")

	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c
	startupLogger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking new sockets, then return everyone to the host world.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Socket server shutdown error", zap.Error(err))
	}
	cancel()
	select {
	case <-hostDone:
	case <-shutdownCtx.Done():
		logger.Warn("Host did not stop in time")
	}
	if prometheusServer != nil {
		if err := prometheusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Prometheus server shutdown error", zap.Error(err))
		}
	}
	metrics.Stop(logger)

	startupLogger.Info("Shutdown complete")
	_ = logger.Sync()
}

// zapWriter feeds access log lines into the structured logger.
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	w.logger.Info(string(p))
	return n, nil
}
