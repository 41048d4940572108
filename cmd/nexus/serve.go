package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/mcp"
	"github.com/dshills/nexus/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, logger, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if err := eng.Close(); err != nil {
				logger.Warn().Err(err).Msg("close failed")
			}
		}()

		logger.Info().
			Str("version", version).
			Str("build_mode", storage.BuildMode).
			Str("driver", storage.DriverName).
			Bool("vector_extension", storage.VectorExtensionAvailable).
			Str("data_dir", eng.Config().DataDir).
			Msg("nexus starting")

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		server := mcp.NewServer(eng, mcp.WithLogger(logger))
		errChan := make(chan error, 1)
		go func() {
			logger.Info().Msg("MCP server ready, listening on stdio")
			errChan <- server.Serve(ctx, os.Stdin, os.Stdout)
		}()

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case err := <-errChan:
			if err != nil && ctx.Err() == nil {
				return err
			}
		}
		logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
