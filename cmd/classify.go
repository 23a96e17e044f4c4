// =============================================================================
// NF-e Supplier Classifier - Classify Command
// =============================================================================
//
// This file defines the 'classify' command, which runs the whole pipeline
// over one input directory.
//
// COMMAND USAGE:
//   nfe-classifier classify --input-dir DIR --empresa N --data-ini D --data-fim D
//
// FLAGS:
//   --input-dir : Folder scanned recursively for .zip and .xml files
//   --empresa   : Company code used by the supplier lookups
//   --data-ini  : Start of the ledger period (YYYY-MM-DD or DD/MM/YYYY)
//   --data-fim  : End of the ledger period, inclusive
//   --workers   : Overrides the configured Stage-1 worker count
//
// OUTPUT (stdout, one line each, for callers to parse):
//   ZIP_OK:<absolute bundle path>
//   Concluido. Resultados em: <output directory>
//
// Logs go to stderr.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/ledger"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/pipeline"
	"github.com/ginjaninja78/nfe-classifier/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

type classifyFlags struct {
	inputDir string
	company  string
	dateFrom string
	dateTo   string
	workers  int
}

var classifyOpts classifyFlags

// =============================================================================
// CLASSIFY COMMAND DEFINITION
// =============================================================================

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify the NF-e documents of an input directory",
	Long: `The classify command stages every document found under --input-dir and
sorts it into the output folder, created next to the input directory.

Stage-1 uses the CFOP registry. Documents with a CFOP outside the registry are
sorted by issuer in Stage-2, using the period ledger and supplier master of
--empresa between --data-ini and --data-fim.

On success the output folder is bundled into classificados_<id>.zip next to
the input directory and its path is printed as ZIP_OK:<path>.

Unreadable documents are skipped and listed in the processing summary. The
run stops when the supplier lookup is unavailable; documents already placed
stay where they are.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runClassify(ctx, cmd.OutOrStdout(), cfg, classifyOpts)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	f := classifyCmd.Flags()
	f.StringVar(&classifyOpts.inputDir, "input-dir", "", "Folder with the .zip/.xml documents (required)")
	f.StringVar(&classifyOpts.company, "empresa", "", "Company code for the supplier lookups (required)")
	f.StringVar(&classifyOpts.dateFrom, "data-ini", "", "Period start, YYYY-MM-DD or DD/MM/YYYY (required)")
	f.StringVar(&classifyOpts.dateTo, "data-fim", "", "Period end, YYYY-MM-DD or DD/MM/YYYY (required)")
	f.IntVar(&classifyOpts.workers, "workers", 0, "Stage-1 worker count (default from config)")

	for _, name := range []string{"input-dir", "empresa", "data-ini", "data-fim"} {
		_ = classifyCmd.MarkFlagRequired(name)
	}
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// runClassify runs one pipeline and prints the signaling lines to out.
func runClassify(ctx context.Context, out io.Writer, cfg *config.MainConfig, fl classifyFlags) error {
	log := logger.Named("classify")

	from, err := ledger.ParseDate(fl.dateFrom)
	if err != nil {
		return fmt.Errorf("--data-ini: %w", err)
	}
	to, err := ledger.ParseDate(fl.dateTo)
	if err != nil {
		return fmt.Errorf("--data-fim: %w", err)
	}
	if to.Before(from) {
		return fmt.Errorf("--data-fim %s is before --data-ini %s", fl.dateTo, fl.dateFrom)
	}
	if fl.workers > 0 {
		cfg.Workers = fl.workers
	}

	opt := pipeline.Options{
		InputDir: fl.inputDir,
		Company:  fl.company,
		From:     from,
		To:       to,
		Config:   cfg,
		Log:      log,
	}

	if cfg.Upload.Bucket != "" {
		up, err := utils.NewGCSUploader(ctx, cfg.Upload.Bucket, cfg.Upload.Prefix)
		if err != nil {
			log.Warn().Err(err).Str("bucket", cfg.Upload.Bucket).Msg("bundle upload disabled")
		} else {
			defer up.Close()
			opt.Uploader = up
		}
	}

	res, err := pipeline.Run(ctx, opt)
	if err != nil {
		return err
	}

	for _, f := range res.Failures {
		fmt.Fprintf(os.Stderr, "FALHA: %s: %s\n", f.FileName, f.Message)
	}
	fmt.Fprintf(out, "ZIP_OK:%s\n", res.Archive)
	fmt.Fprintf(out, "Concluido. Resultados em: %s\n", res.OutputDir)
	return nil
}
