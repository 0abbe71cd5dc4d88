package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/transport"
)

func newAlgorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List the dithering algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, k := range dither.Keys() {
				if k == dither.Default {
					fmt.Fprintf(out, "%s (default)\n", k)
					continue
				}
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
}
