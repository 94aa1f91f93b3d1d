package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/store/memstore"
)

// newServeCommand runs the in-memory conversation store as an HTTP server,
// for local development against the store contract.
func newServeCommand() *cobra.Command {
	var listen string
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the in-memory conversation store over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Serve.Listen
			}

			mem := memstore.New()
			if seed {
				c := mem.CreateChat(&chat.Chat{
					ProfileID: cfg.ProfileID,
					Title:     "scratch",
					ModelID:   cfg.ModelID,
				})
				log.Info().Str("chat_id", c.ID).Msg("seeded scratch chat")
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           mem.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				log.Info().Str("listen", listen).Msg("store listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return eg.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&seed, "seed", false, "Seed an empty scratch chat on startup")

	return cmd
}
