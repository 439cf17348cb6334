package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/node"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"github.com/rudransh-shrivastava/peerlink/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const metricsShutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "joins the network and opens an interactive session",
		Long: `run connects to the tracker, keeps links with up to max_peers peers and reads commands from stdin:
  /file <path>  send a file to every verified peer
  /peers        list sessions
  /known        list peers verified in earlier runs
  /quit         leave
anything else is sent as a text message`,
		RunE: runPeer,
	}

	flags := cmd.Flags()
	flags.String("signal-url", "", "tracker websocket url")
	flags.StringP("data-dir", "d", "", "directory holding the identity database")
	flags.String("download-dir", "", "directory received files are written to")
	flags.Int("max-peers", 0, "maximum number of sessions")
	flags.Int("max-outgoing", 0, "maximum number of sessions this peer dials")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func runPeer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close(db)

	kp, created, err := store.NewIdentityStore(db).LoadOrGenerate(ctx)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	if created {
		log.Info("Generated a new identity")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg, log)
	}

	sig, err := signaling.Dial(ctx, cfg.SignalURL, kp.PeerID(), log)
	if err != nil {
		return err
	}

	peers := store.NewPeerStore(db)
	console := newConsole(cmd.OutOrStdout(), cfg.DownloadDir, log)
	console.known = peers.Known
	n, err := node.New(node.Options{
		Config:   cfg,
		Identity: kp,
		Signaler: sig,
		Dialer:   webrtc.New(cfg.ICEServers, log),
		PeerBook: peers,
		Logger:   log,
		Metrics:  m,
		Events:   console.handlers(),
	})
	if err != nil {
		_ = sig.Close()
		return err
	}
	defer n.Close()

	if err := n.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "You are %s\n", kp.PeerID())

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		console.readCommands(ctx, cmd.InOrStdin(), n)
	}()

	select {
	case <-ctx.Done():
	case <-inputDone:
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("Metrics server failed: %v", err)
	}
}
