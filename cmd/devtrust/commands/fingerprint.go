package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"devtrust/internal/app"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the device key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(wire, passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Device:      %s\n", a.Me.Device())
			fmt.Printf("Fingerprint: %s\n", a.Fingerprint)
			return nil
		},
	}
	return cmd
}
