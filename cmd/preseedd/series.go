package main

import (
	"fmt"
	"io"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"preseedd/internal/logging"
)

func newSeriesCmd(load loader) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Print the supported series, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse("2006-01-02", at); err != nil {
					return oops.Wrapf(err, "--at")
				}
			}
			log, err := logging.NewWithOutput(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printLines(cmd.OutOrStdout(), supportedSeries(cfg, now, log).Names())
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate support as of this date (YYYY-MM-DD)")
	return cmd
}

func printLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
