package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"devtrust/internal/app"
)

var (
	home       string
	passphrase string
	relayURL   string
	userID     string
	deviceID   string
	debug      bool
	assumeYes  bool

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:          "devtrust",
		Short:        "Verify device keys and sign in new devices over a rendezvous relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".devtrust")
			}
			level := slog.LevelWarn
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			w, err := app.NewWire(app.Config{
				Home:           home,
				RelayURL:       relayURL,
				UserID:         userID,
				DeviceID:       deviceID,
				PollInterval:   500 * time.Millisecond,
				PollTimeout:    5 * time.Second,
				RequestTimeout: 10 * time.Minute,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.devtrust)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the device keys")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "rendezvous relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&userID, "user", "", "user id, e.g. @alice:example.org")
	root.PersistentFlags().StringVar(&deviceID, "device", "", "device id for a new identity")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging to stderr")

	root.AddCommand(initCmd(), fingerprintCmd(), loginCmd(), simulateCmd(), trustCmd())
	return root.Execute()
}
