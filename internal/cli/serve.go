package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/dermagraph/internal/metrics"
	"github.com/lazypower/dermagraph/internal/server"
)

var serveTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Serve search, causal chain, compatibility and atom lookups over HTTP. The --access flag sets the level for requests without an X-Access-Level header.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveTimeout, "request-timeout", 30*time.Second, "Per-request deadline (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	level, err := accessLevel()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.metrics = metrics.New()

	eng, err := a.engine(ctx)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	pinger, _ := repo.(server.Pinger)

	var tokens *server.TokenVerifier
	if auth := a.cfg.Server.Auth; auth.JWTSecret != "" {
		tokens, err = server.NewTokenVerifier(auth.JWTSecret, auth.Issuer)
		if err != nil {
			return err
		}
		a.log.Info("bearer token clearance enabled; X-Access-Level is ignored", "issuer", auth.Issuer)
	}

	srv := server.New(server.Options{
		Engine:         eng,
		Repository:     pinger,
		Metrics:        a.metrics,
		Log:            a.log,
		Version:        VersionString(),
		DefaultLevel:   level,
		RequestTimeout: serveTimeout,
		Tokens:         tokens,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})

	addr := a.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		a.log.Info("dermagraph serving",
			"addr", addr,
			"repository", a.cfg.Repository.Backend,
			"vector_index", a.cfg.VectorIndex.Provider,
			"embedding", a.cfg.Embedding.Provider,
			"default_level", level.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}
	a.log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(sctx)
}
