package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/okulov/passport/history"
	historymem "github.com/okulov/passport/history/memory"
	historypg "github.com/okulov/passport/history/postgres"
	boltregistry "github.com/okulov/passport/registry/bolt"
	"github.com/okulov/passport/server"
	"github.com/okulov/passport/storage/memory"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the SSO session server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

		if err := os.MkdirAll(filepath.Dir(cfg.BrokersDB), 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		brokers, err := boltregistry.Open(cfg.BrokersDB, boltregistry.Config{})
		if err != nil {
			return fmt.Errorf("failed to open broker registry: %w", err)
		}
		defer brokers.Close()

		if cfg.UsersFile == "" {
			return errors.New("users_file must be set in the config")
		}
		dir, err := loadUsers(cfg.UsersFile)
		if err != nil {
			return err
		}

		sessions := memory.New()
		sessions.StartSweep(time.Minute)
		defer sessions.Close()

		var hist history.Store
		if cfg.HistoryDSN != "" {
			pg, err := historypg.NewFromDSN(cmd.Context(), cfg.HistoryDSN)
			if err != nil {
				return fmt.Errorf("failed to connect to history database: %w", err)
			}
			defer pg.Close()
			if err := historypg.EnsureSchema(cmd.Context(), pg.Pool()); err != nil {
				return fmt.Errorf("failed to prepare history schema: %w", err)
			}
			hist = pg
		} else {
			hist = historymem.New()
			logger.Warn("history_dsn not set, login history is in-memory only")
		}

		bridge := server.NewBridge(sessions, brokers, cfg.SessionTTL,
			server.WithBridgeLogger(logger))
		srv := server.New(bridge, brokers,
			server.DirectoryAuthenticator(dir),
			server.DirectoryUserInfo(dir),
			server.WithLogger(logger),
			server.WithHistory(hist),
			server.WithMetrics(server.NewMetrics(prometheus.DefaultRegisterer)),
			server.WithRedirectHosts(cfg.RedirectHosts...),
		)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", promhttp.Handler())
		r.Mount("/", srv.Router())

		httpServer := &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started", "listen", cfg.Listen, "session_ttl", cfg.SessionTTL)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
