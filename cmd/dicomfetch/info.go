package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show the archive and the remote node settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openLocal()
			if err != nil {
				return err
			}
			defer r.Close()

			info := r.Info()
			if output == "yaml" {
				return printYAML(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "archive:      %s\n", info.ArchiveRoot)
			fmt.Fprintf(w, "local AE:     %s\n", info.LocalAETitle)
			fmt.Fprintf(w, "peer:         %s@%s\n", info.PeerAETitle, info.PeerAddress)
			fmt.Fprintf(w, "timeout:      %s\n", info.Timeout)
			return nil
		},
	}

	deleteSubPath string

	deleteCmd = &cobra.Command{
		Use:   "delete SOP_INSTANCE_UID...",
		Short: "Remove objects from the local archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openLocal()
			if err != nil {
				return err
			}
			defer r.Close()

			for _, sop := range args {
				path, err := r.Delete(sop, deleteSubPath)
				if err != nil {
					return err
				}
				if path == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s not archived\n", sop)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
			}
			return nil
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Dump(cmd.OutOrStdout())
		},
	}
)

func init() {
	deleteCmd.Flags().StringVar(&deleteSubPath, "subpath", "", "Directory below the archive root")
}
