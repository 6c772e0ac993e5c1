package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"emojivote/internal/bootstrap"
	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive chat events, tally proposals on schedule and serve proposal images",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		addr = strings.TrimSpace(addr)
		if addr == "" {
			addr = app.Config.Events.HTTPAddr
		}
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

		server := &http.Server{
			Addr: addr,
			Handler: newServeHandler(ctx, app.Dispatcher, app.Images, serveHandlerConfig{
				SigningSecret:    app.Config.Slack.SigningSecret,
				Reactions:        app.Config.Slack.Reactions,
				ProposalChannels: app.Config.Slack.ProposalChannels,
				Metrics:          app.Metrics.Handler(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return app.Dispatcher.Run(groupCtx)
		})
		if !noScheduler {
			group.Go(func() error {
				return app.Scheduler.Run(groupCtx)
			})
		}
		if app.Subscriber != nil {
			group.Go(func() error {
				return app.Subscriber.Run(groupCtx)
			})
		}
		group.Go(func() error {
			logging.Info(ctx, "http server started", slog.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errs.Wrap(err, "serve http")
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return errs.Wrap(err, "shutdown http server")
			}
			logging.Info(ctx, "http server stopped")
			return nil
		})

		if err := group.Wait(); err != nil {
			logging.Error(ctx, "serve stopped with error", slog.Any("err", errs.Loggable(err)))
			return err
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "HTTP listen address (defaults to events.http_addr)")
	serveCmd.Flags().Bool("no-scheduler", false, "Do not run the periodic tally; use `emojivote tally` from an external scheduler instead")
}
