package commands

import (
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"devtrust/internal/crypto"
)

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect verified device keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List keys verified on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := wire.Trust.All()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				info("No verified keys yet")
				return nil
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeader([]string{"User", "Device", "Fingerprint", "Method", "Verified"})
			for _, k := range keys {
				table.Append([]string{
					k.UserID.String(),
					k.DeviceID.String(),
					crypto.Fingerprint(k.Key.Slice()),
					k.Method,
					k.VerifiedAt.Local().Format(time.DateTime),
				})
			}
			table.Render()
			return nil
		},
	})
	return cmd
}
