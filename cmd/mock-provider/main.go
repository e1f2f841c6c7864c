// Command mock-provider serves a fake provider job API for local runs.
//
// Places and photos come from a JSON fixture file:
//
//	{
//	  "places": {"<lookup key>": {"name": "...", "latitude": 52.1, ...}},
//	  "photos": {"a.jpg": 4096}
//	}
//
// Point gravekeeper at it with PROVIDER_BASE_URL=http://<addr>.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gravekeeper/internal/logging"
	"gravekeeper/internal/mockprovider"
	"gravekeeper/internal/provider"
)

type fixtures struct {
	Places map[string]provider.ResultRow `json:"places"`
	Photos map[string]int                `json:"photos"`
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var addr string
	var token string
	var readyAfter int
	var fixturePath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "mock-provider",
		Short:         "Serve a fake provider job API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Level: logLevel, Format: "console"})
			if err != nil {
				return err
			}
			srv := mockprovider.New(mockprovider.Options{Token: token, ReadyAfter: readyAfter}, logger)
			if fixturePath != "" {
				count, err := loadFixtures(srv, fixturePath)
				if err != nil {
					return err
				}
				logger.Info("fixtures loaded", logging.String("path", fixturePath), logging.Int("places", count))
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			server := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("mock provider listening", logging.String("addr", addr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "Listen address")
	cmd.Flags().StringVar(&token, "token", "", "Required bearer token (empty accepts any)")
	cmd.Flags().IntVar(&readyAfter, "ready-after", 2, "Status checks answered 'running' before a job is ready")
	cmd.Flags().StringVar(&fixturePath, "fixtures", "", "JSON file with places and photos")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

func loadFixtures(srv *mockprovider.Server, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read fixtures: %w", err)
	}
	var fx fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return 0, fmt.Errorf("parse fixtures: %w", err)
	}
	for key, row := range fx.Places {
		srv.AddPlace(key, row)
	}
	for name, size := range fx.Photos {
		srv.AddPhoto(name, size)
	}
	return len(fx.Places), nil
}
