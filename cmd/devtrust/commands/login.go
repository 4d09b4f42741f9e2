package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"devtrust/internal/app"
	"devtrust/internal/crypto"
	"devtrust/internal/rendezvous"
	"devtrust/internal/services/login"
)

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in a device through another device of the same user",
	}
	cmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "accept the check code without asking")
	cmd.AddCommand(loginGenerateCmd(), loginScanCmd())
	return cmd
}

func loginGenerateCmd() *cobra.Command {
	var newDevice bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Show a code for the other device to scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(wire, passphrase)
			if err != nil {
				return err
			}
			ch, err := a.NewChannel()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			defer ch.Close(context.Background())

			intent := rendezvous.IntentReciprocateLogin
			if newDevice {
				intent = rendezvous.IntentLoginOnNewDevice
			}
			code, err := ch.GenerateCode(ctx, intent)
			if err != nil {
				return err
			}
			qr, err := code.QR(serverName(a))
			if err != nil {
				return err
			}
			info("On the other device run: devtrust login scan '%s'", code.String())
			fmt.Printf("QR code (base64): %s\n", crypto.B64(qr))
			info("Waiting for the other device...")

			return runLogin(ctx, a, ch, intent, false)
		},
	}
	cmd.Flags().BoolVar(&newDevice, "new", false, "this is the device being signed in")
	return cmd
}

func loginScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <code>",
		Short: "Connect to the device that shows the code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(wire, passphrase)
			if err != nil {
				return err
			}
			ch, intent, err := a.JoinChannel(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			defer ch.Close(context.Background())

			return runLogin(ctx, a, ch, intent, true)
		},
	}
}

// runLogin plays our side of the login. The generator of a reciprocate code
// is the signed-in device; scanning flips that.
func runLogin(ctx context.Context, a *app.App, ch *rendezvous.SecureChannel, intent rendezvous.Intent, scanned bool) error {
	signedIn := (intent == rendezvous.IntentReciprocateLogin) != scanned
	var (
		res *login.Result
		err error
	)
	if signedIn {
		res, err = a.Login.Reciprocate(ctx, ch, confirmCheckCode)
	} else {
		res, err = a.Login.Join(ctx, ch, confirmCheckCode)
	}
	if err != nil {
		return err
	}
	if signedIn {
		success("Signed in %s", res.Peer)
	} else {
		success("Signed in through %s", res.Peer)
	}
	fmt.Printf("Trusted key %s\n", crypto.Fingerprint(res.PeerKey.Slice()))
	return nil
}

// serverName is the homeserver part of the local user id.
func serverName(a *app.App) string {
	_, server, _ := strings.Cut(string(a.Me.UserID), ":")
	return server
}
