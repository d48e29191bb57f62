package main

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"kvharness/internal/backend"
)

func newServeCmd() *cobra.Command {
	var port int
	var staleReads bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the in-process reference register service",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			srv := backend.NewServer(backend.Options{StaleReads: staleReads})
			addr := fmt.Sprintf(":%d", port)
			fmt.Println(colorize(fmt.Sprintf("reference backend listening on %s", addr), colorBlue))
			if staleReads {
				fmt.Println(colorize("stale-read mode on: reads during partitions serve pre-partition values", colorYellow))
			}
			return errors.Wrap(http.ListenAndServe(addr, srv.Handler()), "serve backend")
		},
	}
	cmd.Flags().IntVar(&port, "port", 8400, "listen port")
	cmd.Flags().BoolVar(&staleReads, "stale-reads", false, "serve stale reads during partitions (injects a real bug)")
	return cmd
}
