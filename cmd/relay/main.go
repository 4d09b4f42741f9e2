package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"devtrust/internal/relay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		listen  string
		baseURL string
		ttl     time.Duration
		maxBody int64
		debug   bool
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "In-memory rendezvous relay for devtrust logins",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := relay.NewServer(relay.ServerConfig{
				TTL:     ttl,
				BaseURL: baseURL,
				MaxBody: maxBody,
				Logger:  log,
			})
			go srv.Run(ctx, time.Minute)

			hs := &http.Server{
				Addr:              listen,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = hs.Shutdown(shutdown)
			}()

			log.Info("relay listening", "addr", listen, "ttl", ttl)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public origin used in session URLs (default: from the request)")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "lifetime of a rendezvous session")
	cmd.Flags().Int64Var(&maxBody, "max-body", 64<<10, "largest accepted message in bytes")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every request")
	return cmd
}
