package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"nifty-breakout/internal/api"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/scheduler"
)

// shutdownTimeout bounds graceful shutdown of the server and scheduler.
const shutdownTimeout = 30 * time.Second

func addServeCommands(rootCmd *cobra.Command, app *App) {
	var addr string
	var refreshNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		Long: `Run the periodic jobs (accounting flush, index refresh and the optional
watchlist scan) and serve the JSON API until interrupted. Pending call
accounting is flushed on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.open(ctx); err != nil {
				return err
			}
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			return serve(ctx, app, addr, refreshNow)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	cmd.Flags().BoolVar(&refreshNow, "refresh-now", false, "run an index refresh at startup")

	rootCmd.AddCommand(cmd)
}

func serve(ctx context.Context, app *App, addr string, refreshNow bool) error {
	logger := logging.WithComponent(app.Logger, "serve")

	sched := scheduler.New(scheduler.Config{
		Jobs:      app.Config.Scheduler,
		Flusher:   app.Accountant,
		Runner:    app.Service,
		Watchlist: app.Store,
		Logger:    app.Logger,
	})
	if err := sched.RegisterAll(); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		Scanner:   app.Service,
		Alerts:    app.Alerts,
		Stats:     app.Accountant,
		Watchlist: app.Store,
		Breakers:  app.Feed,
		Snapshots: app.Snapshots,
		Logger:    app.Logger,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start()
	if refreshNow {
		go sched.RunIndexNow()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if err := sched.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
