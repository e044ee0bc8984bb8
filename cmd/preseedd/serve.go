package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"preseedd/internal/httpserver"
	"preseedd/internal/preseed"
)

func newServeCmd(load loader) *cobra.Command {
	var addr, root string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("root") {
				cfg.Root = root
			}
			log, err := setup(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, davRoot, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			supported := supportedSeries(cfg, time.Now(), log)
			log.WithField("series", supported.Names()).Info("supported series")

			svc := preseed.NewService(backend, supported, log)
			if err := svc.ValidateDefaults(ctx); err != nil {
				log.WithError(err).Warn("global defaults missing, requests will fail until they exist")
			}

			opts := httpserver.Options{Config: *cfg, Service: svc, Log: log}
			if cfg.WebDAV {
				opts.DAVRoot = davRoot
			}
			srv, err := httpserver.New(opts)
			if err != nil {
				return err
			}
			return run(ctx, log, &http.Server{
				Addr:              cfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}, cfg.WebDAV)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&root, "root", "", "document root for the dir driver (overrides config)")
	return cmd
}

// run serves until ctx is cancelled, then drains in-flight requests.
func run(ctx context.Context, log logrus.FieldLogger, hs *http.Server, dav bool) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": hs.Addr, "webdav": dav}).Info("preseedd listening")
		errCh <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
