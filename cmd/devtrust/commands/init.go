package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"devtrust/internal/domain"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate device keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if wire.Identity.Exists() {
				return fmt.Errorf("identity already exists in %s", wire.Config.Home)
			}
			id, fp, err := wire.IDs.GenerateIdentity(
				passphrase,
				domain.UserID(wire.Config.UserID),
				domain.DeviceID(wire.Config.DeviceID),
			)
			if err != nil {
				return err
			}
			success("Identity created for %s", id.Device())
			fmt.Printf("Fingerprint: %s\n", fp)
			return nil
		},
	}
}
