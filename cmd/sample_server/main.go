// Command sample_server runs an in-process archive that answers C-ECHO,
// C-FIND and C-MOVE, for trying dicomfetch without a real PACS.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/caio-sobreiro/dicomfetch/config"
	"github.com/caio-sobreiro/dicomfetch/simulator"
	"github.com/caio-sobreiro/dicomfetch/types"
)

func main() {
	port := flag.Int("port", 4242, "TCP port to listen on")
	aeTitle := flag.String("ae", "SAMPLE_SCP", "Server AE Title")
	dir := flag.String("dicom", "", "Directory of DICOM files to serve")
	synthetic := flag.Int("synthetic", 0, "Number of synthetic RT images to generate")
	destinations := flag.StringToString("dest", map[string]string{"DICOMFETCH": "127.0.0.1:11113"}, "C-MOVE destinations as AE=host:port")
	delay := flag.Duration("store-delay", 0, "Delay before each C-STORE sub-operation")
	failure := flag.Uint16("move-status", 0, "Final C-MOVE status to report, 0 for the computed one")
	level := flag.String("log-level", "debug", "Log level")
	flag.Parse()

	if err := config.SetupLogging(*level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := log.WithField("component", "sample-server")

	opts := []simulator.Option{simulator.WithLogger(logger), simulator.WithStoreDelay(*delay)}
	if *failure != 0 {
		opts = append(opts, simulator.WithMoveFailure(*failure))
	}
	sim := simulator.New(*aeTitle, opts...)
	for ae, addr := range *destinations {
		sim.AddDestination(ae, addr)
	}

	if *dir != "" {
		n, err := sim.LoadDir(*dir)
		if err != nil {
			logger.WithError(err).WithField("dir", *dir).Fatal("Failed to load DICOM files")
		}
		logger.WithField("instances", n).Info("Loaded DICOM files")
	}
	studyUID := "1.2.840.999.999.1.1.1.1"
	seriesUID := studyUID + ".1"
	for i := 1; i <= *synthetic; i++ {
		if _, err := sim.Generate("SYNTH", studyUID, seriesUID, fmt.Sprintf("%s.%d", seriesUID, i)); err != nil {
			logger.WithError(err).WithField("instance", i).Fatal("Failed to generate synthetic instance")
		}
	}
	if sim.Len() == 0 {
		logger.Fatal("Must specify either --dicom <dir> or --synthetic <n>")
	}

	if err := sim.Start(fmt.Sprintf(":%d", *port)); err != nil {
		logger.WithError(err).Fatal("Sample server failed to start")
	}
	logger.WithFields(log.Fields{
		"address":   sim.Addr(),
		"ae":        sim.AETitle(),
		"instances": sim.Len(),
		"status":    types.StatusString(*failure),
	}).Info("Sample server running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := sim.Shutdown(); err != nil {
		logger.WithError(err).Error("Sample server terminated unexpectedly")
		os.Exit(1)
	}
	logger.Info("Sample server shutdown complete")
}
