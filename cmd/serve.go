package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/DagiiM/webops-sub005/internal/config"
	"github.com/DagiiM/webops-sub005/internal/server"
)

var serveFlags struct {
	port    int
	dataDir string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and deployment orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if cmd.Flags().Changed("port") {
			cfg.Port = serveFlags.port
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = serveFlags.dataDir
		}

		srv, err := server.New(cfg, log.Logger)
		if err != nil {
			return err
		}

		chSignal := make(chan os.Signal, 1)
		signal.Notify(chSignal, os.Interrupt, syscall.SIGTERM)

		wg := &sync.WaitGroup{}
		wg.Go(func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("server error")
			}
		})

		sig := <-chSignal
		log.Info().Str("signal", sig.String()).Msg("shutting down server...")
		if err := srv.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("error during server shutdown")
		}

		wg.Wait()
		log.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVarP(&serveFlags.dataDir, "data-dir", "d", "./data", "Directory for database, workspaces and logs")
}
