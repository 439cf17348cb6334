package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/tracker"
	"github.com/spf13/cobra"
)

// NewTrackerCmd runs the rendezvous server. cmd/tracker uses it as its root.
func NewTrackerCmd() *cobra.Command {
	var addr, level string

	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "runs the signaling tracker",
		Long:  `tracker runs the websocket rendezvous server peers register with to find each other and negotiate links`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(level)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := tracker.NewServer(tracker.Config{Addr: addr, Logger: log})
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "address to listen on")
	cmd.Flags().StringVar(&level, "level", "info", "log level")
	return cmd
}
