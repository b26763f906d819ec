package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomfetch/types"
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Verify the remote node with C-ECHO",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRetriever()
		if err != nil {
			return err
		}
		defer r.Close()

		start := time.Now()
		status := r.Echo(cmd.Context())
		if status != types.StatusSuccess {
			return errors.Errorf("C-ECHO to %s failed with status %s", cfg.Peer.AETitle, types.StatusString(status))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %s@%s:%d ok in %s\n", cfg.Peer.AETitle, cfg.Peer.Host, cfg.Peer.Port, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
