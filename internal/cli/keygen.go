package cli

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var force, export bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "creates or shows the local identity",
		Long:  `keygen loads the identity stored in the data directory, creating one on first use, and prints its peer id`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return err
			}

			db, err := store.Open(cfg.DBPath())
			if err != nil {
				return err
			}
			defer store.Close(db)

			ids := store.NewIdentityStore(db)
			ctx := cmd.Context()

			var kp *identity.Keypair
			if force {
				if kp, err = identity.Generate(); err != nil {
					return err
				}
				if err := ids.Save(ctx, kp); err != nil {
					return err
				}
			} else if kp, _, err = ids.LoadOrGenerate(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, kp.PeerID())
			if export {
				encoded, err := kp.Export()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, encoded)
			}
			return nil
		},
	}

	cmd.Flags().StringP("data-dir", "d", "", "directory holding the identity database")
	cmd.Flags().BoolVar(&force, "force", false, "replace the stored identity with a new one")
	cmd.Flags().BoolVar(&export, "export", false, "also print the exported keypair")
	return cmd
}
