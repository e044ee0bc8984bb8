package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"preseedd/internal/config"
	"preseedd/internal/logging"
	"preseedd/internal/series"
	"preseedd/internal/store"
)

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "preseedd",
		Short: "Serve per-client Debian/Ubuntu installer preseed files",
		Long: `preseedd serves preseed.cfg and late_command documents to installers on the
local network. Each client (by IP address) can keep its own copy, optionally per
distribution series, falling back to the global defaults in the document root.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: ./preseedd.yaml or /etc/preseedd/preseedd.yaml)")

	load := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}
	root.AddCommand(
		newServeCmd(load),
		newSeriesCmd(load),
		newSharecodeCmd(),
		newConfigCmd(load),
	)
	return root
}

type loader func() (*config.Config, error)

func setup(cfg *config.Config) (*logrus.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, oops.Wrapf(err, "invalid configuration")
	}
	return logging.New(cfg.Log)
}

// supportedSeries builds the series set once; it is not refreshed while the
// process runs.
func supportedSeries(cfg *config.Config, now time.Time, log logrus.FieldLogger) series.Set {
	if len(cfg.Series.Static) > 0 {
		return series.Static(cfg.Series.Static...)
	}
	return series.Load(cfg.Series.Sources, now, cfg.Series.Rolling, log)
}

// openBackend returns the document tree and, for local trees, its directory.
func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, string, error) {
	switch cfg.Storage.Driver {
	case config.DriverS3:
		b, err := store.NewS3(ctx, store.S3Options{
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Bucket:    cfg.Storage.S3.Bucket,
			Prefix:    cfg.Storage.S3.Prefix,
		})
		return b, "", err
	default:
		d, err := store.NewDir(cfg.Root)
		if err != nil {
			return nil, "", err
		}
		return d, d.Root(), nil
	}
}
