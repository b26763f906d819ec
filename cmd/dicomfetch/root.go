package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/caio-sobreiro/dicomfetch/archive"
	"github.com/caio-sobreiro/dicomfetch/config"
	"github.com/caio-sobreiro/dicomfetch/retrieve"
)

var (
	cfgFile string
	output  string

	v   = config.New()
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "dicomfetch",
		Short: "Fetch DICOM objects from a remote archive into a local cache",
		Long: `dicomfetch retrieves DICOM objects from a remote node with C-MOVE,
keeps them in a local archive and answers from that archive when it can.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// flagBindings maps persistent flags onto configuration keys.
var flagBindings = map[string]string{
	"log-level":   "Logging.Level",
	"aet":         "Local.AETitle",
	"listen-port": "Local.ListenPort",
	"peer-host":   "Peer.Host",
	"peer-port":   "Peer.Port",
	"peer-aet":    "Peer.AETitle",
	"archive":     "Archive.Root",
	"timeout":     "Retrieve.Timeout",
	"metrics":     "Metrics.Address",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")
	flags.StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	flags.String("log-level", "info", "Log level")
	flags.String("aet", "DICOMFETCH", "Local AE title, also the C-MOVE destination")
	flags.Int("listen-port", 11113, "Port of the storage listener")
	flags.String("peer-host", "", "Host of the remote node")
	flags.Int("peer-port", 104, "Port of the remote node")
	flags.String("peer-aet", "", "AE title of the remote node")
	flags.String("archive", "./files/dicom", "Root of the local archive")
	flags.Duration("timeout", retrieve.DefaultTimeout, "How long a retrieval may wait")
	flags.String("metrics", "", "Address to serve Prometheus metrics on")
	if err := bindFlags(v, flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(retrieveCmd, queryCmd, echoCmd, listenCmd, infoCmd, deleteCmd, configCmd)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagBindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "failed to bind flag %s", name)
		}
	}
	return nil
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if output != "text" && output != "yaml" {
		return errors.Errorf("unknown output format %q", output)
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := config.SetupLogging(loaded.Logging.Level); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// openRetriever builds a Retriever for commands that talk to the peer.
func openRetriever() (*retrieve.Retriever, error) {
	if err := cfg.RequirePeer(); err != nil {
		return nil, err
	}
	return openLocal()
}

// openLocal builds a Retriever without requiring a peer.
func openLocal() (*retrieve.Retriever, error) {
	arch, err := archive.New(cfg.Archive.Root,
		archive.WithLogger(log.WithField("component", "archive")),
		archive.WithFileMode(os.FileMode(cfg.Archive.FileMode)),
	)
	if err != nil {
		return nil, err
	}
	toolkit := retrieve.NewDicomnetToolkit(retrieve.WithToolkitLogger(log.WithField("component", "dicomnet")))
	return retrieve.New(toolkit, arch, cfg.RetrieverConfig()), nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		log.Errorln("dicomfetch failed:", err)
	}
	return err
}

// errRetrievalFailed is returned once every outcome was printed and at
// least one of them did not deliver its objects.
var errRetrievalFailed = errors.New("retrieval did not complete")

// exitCode maps the error of Execute to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errRetrievalFailed):
		return 2
	default:
		return 1
	}
}
