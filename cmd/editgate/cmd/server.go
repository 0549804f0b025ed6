package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/editgate/api"
	"github.com/jmcleod/editgate/auth"
	"github.com/jmcleod/editgate/content"
	"github.com/jmcleod/editgate/internal/config"
	"github.com/jmcleod/editgate/storage"
	"github.com/jmcleod/editgate/web"
)

var serverFlags struct {
	listen  string
	dataDir string
	tlsCert string
	tlsKey  string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the editor admin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err := cfg.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		gateway, cleanup, err := buildGateway(cfg, repo, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		trusted, err := cfg.TrustedProxyPrefixes()
		if err != nil {
			return err
		}
		store := content.NewStore(repo, content.WithMaxBackups(cfg.Content.MaxBackups))
		a := api.New(gateway, store, api.WithLogger(logger), api.WithTrustedProxies(trusted))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api", a.Router())

		webHandler, err := web.Handler()
		if err != nil {
			return err
		}
		r.Handle("/*", webHandler)

		server := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		useTLS := cfg.Server.TLSCert != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		go runJanitor(ctx, gateway, cfg.Server.SweepInterval.Duration, logger)

		printBanner(cmd.OutOrStdout())
		logger.Info("server started",
			"listen", cfg.Server.Listen,
			"tls", useTLS,
			"storage", cfg.Server.Storage,
			"session_store", cfg.Sessions.Store)
		if gateway.UsingDefaultSecret() {
			logger.Warn("the default admin password is active; change it after first login")
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// buildGateway assembles the authentication core over repo. The returned
// cleanup flushes the webhook queue and closes the session store.
func buildGateway(cfg *config.Config, repo storage.Repository, logger *slog.Logger) (*auth.Gateway, func(), error) {
	params, err := cfg.KDFParams()
	if err != nil {
		return nil, nil, err
	}
	credOpts := []auth.CredentialOption{
		auth.WithKDFParams(params),
		auth.WithMinSecretLength(cfg.Auth.MinPasswordLength),
	}
	if cfg.Auth.InitialPasswordHash != "" {
		credOpts = append(credOpts, auth.WithInitialHash(cfg.Auth.InitialPasswordHash))
	}
	authCfg := cfg.AuthConfig()
	creds, err := auth.OpenCredentialStore(repo, authCfg.Username, cfg.Auth.InitialPassword, credOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := []auth.GatewayOption{
		auth.WithLogger(logger),
		auth.WithAlertFunc(func(ev auth.AlertEvent) {
			logger.Warn("security alert",
				"type", ev.Type,
				"message", ev.Message,
				"count", ev.Count,
				"threshold", ev.Threshold)
		}, cfg.AccessLog.AlertWindow.Duration, cfg.AccessLog.AlertThreshold),
	}

	if cfg.Sessions.Store == config.SessionStorePersistent {
		key, err := cfg.SessionWrappingKey()
		if err != nil {
			return nil, nil, err
		}
		sessions, err := auth.NewPersistentSessionStore(repo, key, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session store: %w", err)
		}
		closers = append(closers, sessions.Close)
		opts = append(opts, auth.WithSessionStore(sessions))
	}

	var sinks []auth.Sink
	if cfg.AccessLog.Persist {
		sinks = append(sinks, auth.NewRepositorySink(repo, cfg.AccessLog.Capacity, logger))
	}
	if cfg.AccessLog.WebhookURL != "" {
		hook := auth.NewWebhookSink(cfg.AccessLog.WebhookURL, cfg.AccessLog.WebhookAuthHeader, logger)
		closers = append(closers, hook.Close)
		sinks = append(sinks, hook)
	}
	accessLog := auth.NewAccessLog(cfg.AccessLog.Capacity, sinks...)
	if cfg.AccessLog.Persist {
		entries, err := auth.ReadEntries(repo, cfg.AccessLog.Capacity)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to restore access log: %w", err)
		}
		accessLog.Restore(entries)
	}
	opts = append(opts, auth.WithAccessLog(accessLog))

	gateway, err := auth.NewGateway(authCfg, creds, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return gateway, cleanup, nil
}

// runJanitor periodically drops expired lockouts and idle sessions.
func runJanitor(ctx context.Context, gateway *auth.Gateway, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lockouts, sessions := gateway.Sweep()
			if lockouts > 0 || sessions > 0 {
				logger.Debug("janitor sweep", "lockouts", lockouts, "sessions", sessions)
			}
		}
	}
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.Listen = serverFlags.listen
	}
	if flags.Changed("data-dir") {
		cfg.Server.DataDir = serverFlags.dataDir
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCert = serverFlags.tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKey = serverFlags.tlsKey
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&serverFlags.listen, "listen", "l", ":5555", "Address to listen on")
	serverCmd.Flags().StringVar(&serverFlags.dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&serverFlags.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&serverFlags.tlsKey, "tls-key", "", "Path to TLS key file")
}
