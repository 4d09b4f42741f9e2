package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
	"devtrust/internal/loopback"
	"devtrust/internal/store"
)

func simulateCmd() *cobra.Command {
	var (
		room    string
		decline bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a QR code verification between two in-memory devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.MkdirTemp("", "devtrust-simulate-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)

			shower, err := simParty(dir, "@alice:example.org", "ALICEDEV")
			if err != nil {
				return err
			}
			scanner, err := simParty(dir, "@bob:example.org", "BOBDEV")
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = wire.Config.RequestTimeout
			}
			s := loopback.Scenario{
				Shower:  shower,
				Scanner: scanner,
				Room:    domain.RoomID(room),
				Timeout: timeout,
				Logger:  wire.Logger,
			}
			if decline {
				s.Confirm = declineScan
			}

			rows, runErr := s.Run(cmd.Context())
			printTransitions(rows)
			if runErr != nil {
				warn("verification failed: %v", runErr)
				return runErr
			}
			success("%s and %s verified each other", shower.Device, scanner.Device)
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "send the request in this room instead of to-device")
	cmd.Flags().BoolVar(&decline, "decline", false, "have the showing user reject the scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "verification request timeout (default from config)")
	return cmd
}

func simParty(dir string, user domain.UserID, device domain.DeviceID) (loopback.Party, error) {
	_, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return loopback.Party{}, err
	}
	trustDir, err := os.MkdirTemp(dir, string(device))
	if err != nil {
		return loopback.Party{}, err
	}
	return loopback.Party{
		Device: domain.Device{UserID: user, DeviceID: device},
		Key:    pub,
		Trust:  store.NewTrustFileStore(trustDir),
	}, nil
}

func printTransitions(rows []loopback.Transition) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"At", "Device", "Phase", "Outcome", "Method"})
	for _, r := range rows {
		table.Append([]string{
			r.At.Round(time.Microsecond).String(),
			r.Device.String(),
			r.Phase.String(),
			r.Outcome.String(),
			r.Method,
		})
	}
	table.Render()
	fmt.Println()
}

func declineScan(context.Context) bool { return false }
