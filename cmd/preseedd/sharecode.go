package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"preseedd/internal/sharecode"
)

func newSharecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sharecode <ipv4|code>",
		Short: "Convert between an IPv4 address and its share code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			if ip, ok := sharecode.Decode(in); ok {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), ip)
				return err
			}
			if code, ok := sharecode.Encode(in); ok {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), code)
				return err
			}
			return oops.Errorf("%q is neither an IPv4 address nor an 8-digit share code", in)
		},
	}
}
