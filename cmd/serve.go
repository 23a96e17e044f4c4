// =============================================================================
// NF-e Supplier Classifier - Serve Command
// =============================================================================
//
// COMMAND USAGE:
//   nfe-classifier serve [--addr :8080]
//
// ENDPOINTS:
//   POST /classify-suppliers  multipart upload, runs one job
//   GET  /archives/{name}     downloads a finished bundle
//   GET  /healthz             liveness
//
// =============================================================================

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/server"
	"github.com/ginjaninja78/nfe-classifier/pkg/utils"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job endpoint",
	Long: `The serve command exposes the classify pipeline over HTTP. Each request to
POST /classify-suppliers uploads the documents with the company and the period,
runs one job and answers with the bundle location.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logger.Named("http")
		opts := []server.Option{server.WithLogger(log)}
		if cfg.Upload.Bucket != "" {
			up, err := utils.NewGCSUploader(ctx, cfg.Upload.Bucket, cfg.Upload.Prefix)
			if err != nil {
				log.Warn().Err(err).Str("bucket", cfg.Upload.Bucket).Msg("bundle upload disabled")
			} else {
				defer up.Close()
				opts = append(opts, server.WithUploader(up))
			}
		}

		return server.New(cfg, opts...).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}
