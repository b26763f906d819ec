package main

import (
	"context"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomfetch/types"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the storage listener and archive whatever is sent to it",
	Long: `Run the storage listener until interrupted. Objects pushed to the local
AE title are written to the archive root. With --metrics the Prometheus
collectors are served on that address.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	r, err := openLocal()
	if err != nil {
		return err
	}
	defer r.Close()

	addr, status := r.Listen()
	if status != types.StatusSuccess {
		return errors.Errorf("storage listener on port %d failed with status %s", cfg.Local.ListenPort, types.StatusString(status))
	}
	log.WithFields(log.Fields{
		"address": addr.String(),
		"ae":      cfg.Local.AETitle,
		"archive": cfg.Archive.Root,
	}).Info("Storage listener running")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	{
		done := make(chan struct{})
		g.Add(func() error {
			<-done
			return nil
		}, func(error) {
			r.Close()
			close(done)
		})
	}
	if cfg.Metrics.Address != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Address)
		if err != nil {
			return errors.Wrapf(err, "failed to listen for metrics on %s", cfg.Metrics.Address)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			log.WithField("address", ln.Addr().String()).Info("Serving metrics")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.WithField("signal", sig.Signal.String()).Info("Stopping storage listener")
		return nil
	}
	return err
}
