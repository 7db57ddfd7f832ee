package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porthorian/statelessauth"
)

const (
	serverReadHeaderTimeout = 10 * time.Second
	serverIdleTimeout       = 2 * time.Minute
	defaultGracefulTimeout  = 15 * time.Second
)

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login endpoints and an authenticated whoami API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	serveCmd.Flags().String("address", ":8080", "Address to listen on. Can also be set via STATELESSAUTH_ADDRESS.")
	cobra.CheckErr(viper.BindPFlag("address", serveCmd.Flags().Lookup("address")))
	cobra.CheckErr(viper.BindEnv("address", "STATELESSAUTH_ADDRESS"))

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, flush, err := newLogger(viper.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer flush()

	config, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	config.Logger = logger
	config.Registerer = registry

	client, err := statelessauth.New(config)
	if err != nil {
		return fmt.Errorf("initialize statelessauth: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Error(closeErr, "failed to close statelessauth client")
		}
	}()

	address := viper.GetString("address")
	server := &http.Server{
		Addr:              address,
		Handler:           newServerHandler(client, registry),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

type whoamiResponse struct {
	Subject     string    `json:"subject"`
	Method      string    `json:"method"`
	Authorities []string  `json:"authorities"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// newServerHandler mounts health and metrics endpoints, the login routes and
// the authenticated /api surface.
func newServerHandler(client *statelessauth.Client, gatherer prometheus.Gatherer) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	client.Register(router)

	router.Route("/api", func(r chi.Router) {
		r.Use(client.Middleware())
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			principal, ok := statelessauth.PrincipalFromContext(r.Context())
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(whoamiResponse{
				Subject:     principal.Subject,
				Method:      string(principal.Method),
				Authorities: principal.Authorities,
				ExpiresAt:   principal.ExpiresAt,
			})
		})
	})

	return router
}
